package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Badger/internal/store"
)

// Outcome is the result of a fact write. Fact is always committed when err is nil;
// Warning is set when the follow-up recomputation failed and Snapshot is then the last
// good one (possibly nil).
type Outcome[T any] struct {
	Fact     *T                  `json:"fact"`
	Snapshot *store.Snapshot     `json:"snapshot,omitempty"`
	Warning  *StaleSnapshotError `json:"-"`
}

type GradeInput struct {
	Year  int      `json:"year" validate:"min=1,max=4"`
	Value *float64 `json:"value" validate:"omitempty,gte=0,lte=100"`
}

type MasteryInput struct {
	Percentage float64 `json:"percentage" validate:"gte=0,lte=100"`
}

type SubmissionInput struct {
	ChallengeID uuid.UUID `json:"challenge_id" validate:"required"`
	Percentage  float64   `json:"percentage" validate:"gte=0,lte=100"`
}

type AttendanceInput struct {
	EventName string `json:"event_name" validate:"required,max=200"`
	// Points defaults to store.DefaultAttendancePoints.
	Points   *int `json:"points,omitempty" validate:"omitempty,gte=0"`
	Verified bool `json:"verified"`
}

type ExtracurricularInput struct {
	Title string  `json:"title" validate:"required,max=200"`
	Score float64 `json:"score" validate:"gte=0"`
}

type EnrollInput struct {
	UserID    string `json:"user_id,omitempty" validate:"omitempty,max=64"`
	IDNumber  string `json:"id_number,omitempty" validate:"omitempty,max=64"`
	LoginName string `json:"login_name" validate:"required,max=64"`
	FullName  string `json:"full_name" validate:"max=200"`
}

type ChallengeInput struct {
	Title  string `json:"title" validate:"required,max=200"`
	Active *bool  `json:"active,omitempty"`
}

func (e *Engine) check(in any) error {
	if err := e.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return store.Invalid("%s", strings.Join(fields, "; "))
		}
		return store.Invalid("%v", err)
	}
	return nil
}

// write commits fn as one student transaction and then recomputes category, all under
// the student's lock. A failed write is returned as is; a failed recompute becomes the
// outcome's Warning.
func write[T any](ctx context.Context, e *Engine, identifier string, category store.Category, fact *T, fn func(tx store.Facts, key string) error) (*Outcome[T], error) {
	key, err := e.requireStudent(ctx, identifier)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.Acquire(ctx, key)
	if err != nil {
		return nil, store.Unavailable("acquire student lock", err)
	}
	defer release()

	if err := e.store.WithStudentTx(ctx, key, func(tx store.Facts) error {
		return fn(tx, key)
	}); err != nil {
		return nil, err
	}
	e.metrics.factWrites.WithLabelValues(string(category)).Inc()

	return finish(ctx, e, key, category, fact), nil
}

func finish[T any](ctx context.Context, e *Engine, key string, category store.Category, fact *T) *Outcome[T] {
	out := &Outcome[T]{Fact: fact}
	snap, err := e.recomputeLocked(ctx, key, category)
	if err != nil {
		out.Warning = e.stale(key, category, err)
		// Best effort: show what is stored.
		out.Snapshot, _ = e.store.GetSnapshot(ctx, key)
		return out
	}
	out.Snapshot = snap
	return out
}

func (e *Engine) SetGrade(ctx context.Context, identifier string, in GradeInput) (*Outcome[store.GradeRecord], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	rec := &store.GradeRecord{}
	return write(ctx, e, identifier, store.CategoryAcademic, rec, func(tx store.Facts, key string) error {
		if err := tx.SetGrade(ctx, key, in.Year, in.Value); err != nil {
			return err
		}
		g, err := tx.GetGrades(ctx, key)
		if err != nil {
			return err
		}
		if g != nil {
			*rec = *g
		}
		return nil
	})
}

func (e *Engine) SetMastery(ctx context.Context, identifier string, in MasteryInput) (*Outcome[store.MasteryRecord], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	rec := &store.MasteryRecord{}
	return write(ctx, e, identifier, store.CategoryMastery, rec, func(tx store.Facts, key string) error {
		if err := tx.SetMastery(ctx, key, in.Percentage); err != nil {
			return err
		}
		pct := in.Percentage
		*rec = store.MasteryRecord{UserID: key, Percentage: &pct}
		return nil
	})
}

func (e *Engine) SubmitChallenge(ctx context.Context, identifier string, in SubmissionInput) (*Outcome[store.ChallengeSubmission], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	sub := &store.ChallengeSubmission{ChallengeID: in.ChallengeID, Percentage: in.Percentage}
	return write(ctx, e, identifier, store.CategoryChallenges, sub, func(tx store.Facts, key string) error {
		ok, err := tx.ChallengeExists(ctx, in.ChallengeID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("challenge %s: %w", in.ChallengeID, store.ErrNotFound)
		}
		sub.UserID = key
		return tx.CreateChallengeSubmission(ctx, sub)
	})
}

func (e *Engine) RecordAttendance(ctx context.Context, identifier string, in AttendanceInput) (*Outcome[store.AttendanceRecord], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	rec := &store.AttendanceRecord{
		EventName: in.EventName,
		Points:    store.DefaultAttendancePoints,
		Verified:  in.Verified,
	}
	if in.Points != nil {
		rec.Points = *in.Points
	}
	return write(ctx, e, identifier, store.CategorySeminars, rec, func(tx store.Facts, key string) error {
		rec.UserID = key
		return tx.CreateAttendance(ctx, rec)
	})
}

func (e *Engine) SetAttendanceVerified(ctx context.Context, identifier string, id uuid.UUID, verified bool) (*Outcome[store.AttendanceRecord], error) {
	rec := &store.AttendanceRecord{}
	return write(ctx, e, identifier, store.CategorySeminars, rec, func(tx store.Facts, key string) error {
		r, err := tx.SetAttendanceVerified(ctx, key, id, verified)
		if err != nil {
			return err
		}
		*rec = *r
		return nil
	})
}

func (e *Engine) DeleteAttendance(ctx context.Context, identifier string, id uuid.UUID) (*Outcome[uuid.UUID], error) {
	return write(ctx, e, identifier, store.CategorySeminars, &id, func(tx store.Facts, key string) error {
		return tx.DeleteAttendance(ctx, key, id)
	})
}

func (e *Engine) RecordExtracurricular(ctx context.Context, identifier, actor string, in ExtracurricularInput) (*Outcome[store.ExtracurricularActivity], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	act := &store.ExtracurricularActivity{
		Title:      in.Title,
		Score:      in.Score,
		Verified:   true,
		RecordedBy: actor,
	}
	return write(ctx, e, identifier, store.CategoryExtracurricular, act, func(tx store.Facts, key string) error {
		act.UserID = key
		return tx.CreateExtracurricular(ctx, act)
	})
}

func (e *Engine) DeleteExtracurricular(ctx context.Context, identifier string, id uuid.UUID) (*Outcome[uuid.UUID], error) {
	return write(ctx, e, identifier, store.CategoryExtracurricular, &id, func(tx store.Facts, key string) error {
		return tx.DeleteExtracurricular(ctx, key, id)
	})
}

// EnrollStudent creates the account and its initial all-zero snapshot.
func (e *Engine) EnrollStudent(ctx context.Context, in EnrollInput) (*Outcome[store.StudentAccount], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	acct := &store.StudentAccount{
		UserID:    in.UserID,
		IDNumber:  in.IDNumber,
		LoginName: in.LoginName,
		FullName:  in.FullName,
	}
	if acct.UserID == "" {
		acct.UserID = uuid.New().String()
	}

	release, err := e.locks.Acquire(ctx, acct.UserID)
	if err != nil {
		return nil, store.Unavailable("acquire student lock", err)
	}
	defer release()

	if err := e.store.WithStudentTx(ctx, acct.UserID, func(tx store.Facts) error {
		return tx.CreateStudent(ctx, acct)
	}); err != nil {
		return nil, err
	}
	e.logger.Info("student enrolled", "user_id", acct.UserID, "login_name", acct.LoginName)

	return finish(ctx, e, acct.UserID, store.CategoryAll, acct), nil
}

// CreateChallenge adds a catalog entry. An active challenge changes every student's
// challenge denominator, so all snapshots are refreshed; failures come back as the
// first stale warning.
func (e *Engine) CreateChallenge(ctx context.Context, in ChallengeInput) (*Outcome[store.Challenge], error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	c := &store.Challenge{Title: in.Title, Active: true}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if err := e.store.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	e.metrics.factWrites.WithLabelValues(string(store.CategoryChallenges)).Inc()

	out := &Outcome[store.Challenge]{Fact: c}
	if !c.Active {
		return out, nil
	}
	report, err := e.RecomputeAll(ctx, store.CategoryChallenges)
	if err != nil {
		out.Warning = e.stale("*", store.CategoryChallenges, err)
		return out, nil
	}
	if len(report.Stale) > 0 {
		out.Warning = report.Stale[0]
	}
	return out, nil
}
