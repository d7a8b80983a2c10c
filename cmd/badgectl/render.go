package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

var styles = struct {
	header lipgloss.Style
	good   lipgloss.Style
	warn   lipgloss.Style
	dim    lipgloss.Style
}{
	header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
	good:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

// tierColors follow the badge palette used on dashboards.
var tierColors = map[scoring.Tier]lipgloss.Color{
	scoring.TierPlatinum:   lipgloss.Color("#E5E4E2"),
	scoring.TierGold:       lipgloss.Color("#FFD700"),
	scoring.TierSilver:     lipgloss.Color("#C0C0C0"),
	scoring.TierBronze:     lipgloss.Color("#CD7F32"),
	scoring.TierRisingStar: lipgloss.Color("#4FC3F7"),
	scoring.TierWarning:    lipgloss.Color("#EF5350"),
}

// badge renders a tier name in its colour. Unknown names are printed dim.
func badge(name string) string {
	tier, ok := scoring.ParseTier(name)
	if !ok {
		return styles.dim.Render(name)
	}
	return lipgloss.NewStyle().Bold(true).Foreground(tierColors[tier]).Render(string(tier))
}

func renderSnapshot(s *store.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %.2f  %s\n", styles.header.Render("stored:"), s.UserID, s.Score, badge(s.Badge))
	for _, c := range store.Categories {
		fmt.Fprintf(&b, "  %-16s %8.2f\n", c, s.Categories.Get(c))
	}
	fmt.Fprint(&b, styles.dim.Render("  computed "+s.ComputedAt.Format("2006-01-02 15:04:05 MST")))
	if s.Stale {
		fmt.Fprint(&b, "\n"+styles.warn.Render("  stale: last recompute failed"))
	}
	return b.String()
}

func renderResult(r *scoring.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %.2f  %s\n", styles.header.Render("live:"), r.OverallScore, badge(string(r.Tier)))
	for _, c := range r.Categories {
		fmt.Fprintf(&b, "  %-16s %8.2f × %5.1f%% = %7.2f\n", c.Name, c.Score, c.Weight, c.Weighted)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderWeights(ws, defaults scoring.WeightSet) string {
	var b strings.Builder
	fmt.Fprintln(&b, styles.header.Render("weights:"))
	for _, c := range store.Categories {
		line := fmt.Sprintf("  %-16s %6.1f", c, ws.Get(c))
		if ws.Get(c) != defaults.Get(c) {
			line += styles.dim.Render(fmt.Sprintf("  (default %.1f)", defaults.Get(c)))
		}
		fmt.Fprintln(&b, line)
	}
	fmt.Fprintf(&b, "  %-16s %6.1f", "total", ws.Sum())
	return b.String()
}
