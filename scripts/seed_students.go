// seed_students.go is a standalone script to enroll students from a CSV roster via the Badger API.
//
// The roster needs a header row. login_name is required; id_number, full_name,
// year_1..year_4 and mastery are optional. Grade and mastery cells are posted as
// facts after enrollment.
//
// Usage:
//
//	go run scripts/seed_students.go -csv roster.csv -api http://localhost:8700 -token $BADGER_ADMIN_TOKEN
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type student struct {
	LoginName string `json:"login_name"`
	IDNumber  string `json:"id_number,omitempty"`
	FullName  string `json:"full_name,omitempty"`

	grades  map[int]float64
	mastery *float64
}

func main() {
	csvPath := flag.String("csv", "roster.csv", "path to roster CSV")
	apiURL := flag.String("api", "http://localhost:8700", "Badger API base URL")
	token := flag.String("token", os.Getenv("BADGER_ADMIN_TOKEN"), "admin bearer token")
	actor := flag.String("actor", "seed", "X-Actor-ID header value")
	dryRun := flag.Bool("dry-run", false, "print students without posting")
	flag.Parse()

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("open roster: %v", err)
	}
	defer f.Close()

	students, err := parseRoster(f)
	if err != nil {
		log.Fatalf("parse roster: %v", err)
	}
	log.Printf("parsed %d students from %s", len(students), *csvPath)

	if *dryRun {
		for i, s := range students {
			fmt.Printf("[%d] %s (id=%s, name=%q, grades=%d, mastery=%v)\n",
				i+1, s.LoginName, s.IDNumber, s.FullName, len(s.grades), s.mastery != nil)
		}
		return
	}

	c := &client{http: &http.Client{}, base: strings.TrimRight(*apiURL, "/"), token: *token, actor: *actor}
	created, skipped, facts := 0, 0, 0
	for _, s := range students {
		if err := c.send(http.MethodPost, "/api/v1/students", s, http.StatusCreated); err != nil {
			log.Printf("skip %q: %v", s.LoginName, err)
			skipped++
			continue
		}
		created++

		path := "/api/v1/students/" + url.PathEscape(s.LoginName)
		for year, v := range s.grades {
			if err := c.send(http.MethodPut, fmt.Sprintf("%s/grades/%d", path, year), map[string]float64{"value": v}, http.StatusOK); err != nil {
				log.Printf("grade year %d for %q: %v", year, s.LoginName, err)
				continue
			}
			facts++
		}
		if s.mastery != nil {
			if err := c.send(http.MethodPut, path+"/mastery", map[string]float64{"percentage": *s.mastery}, http.StatusOK); err != nil {
				log.Printf("mastery for %q: %v", s.LoginName, err)
			} else {
				facts++
			}
		}
	}

	log.Printf("done: %d enrolled, %d skipped, %d facts posted", created, skipped, facts)
}

func parseRoster(r io.Reader) ([]student, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["login_name"]; !ok {
		return nil, errors.New("header has no login_name column")
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []student
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s := student{
			LoginName: cell(row, "login_name"),
			IDNumber:  cell(row, "id_number"),
			FullName:  cell(row, "full_name"),
			grades:    map[int]float64{},
		}
		if s.LoginName == "" {
			log.Printf("line %d: empty login_name, skipped", line)
			continue
		}
		for year := 1; year <= 4; year++ {
			raw := cell(row, fmt.Sprintf("year_%d", year))
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d year_%d: %w", line, year, err)
			}
			s.grades[year] = v
		}
		if raw := cell(row, "mastery"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d mastery: %w", line, err)
			}
			s.mastery = &v
		}
		out = append(out, s)
	}
	return out, nil
}

type client struct {
	http  *http.Client
	base  string
	token string
	actor string
}

func (c *client) send(method, path string, payload any, want int) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", c.actor)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
