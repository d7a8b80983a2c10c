package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and snapshot columns",
	Long: `Detects the account layout, adds the fact tables and any missing snapshot
columns. With --bootstrap an empty database gets the normalized layout (or the
one named by --mode). Running it twice changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return fmt.Errorf("database.url is not set")
		}
		mode, err := store.ParseSchemaMode(migrateMode)
		if err != nil {
			return err
		}
		if mode == store.ModeUnknown {
			mode, _ = cfg.SchemaMode()
		}
		pg, report, err := store.OpenPostgres(cmd.Context(), cfg.Database.URL, store.OpenOptions{
			Mode:      mode,
			Bootstrap: migrateBootstrap || cfg.Schema.Bootstrap,
			Timeout:   cfg.StoreTimeout(),
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

var (
	migrateMode      string
	migrateBootstrap bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Show the detected layout and snapshot columns without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := store.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		probe := store.NewProbe(store.NewPostgresInspector(pool))
		mode, err := probe.Detect(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if mode == store.ModeUnknown {
			fmt.Fprintln(out, styles.warn.Render("no account tables found; run migrate --bootstrap"))
			return nil
		}
		table, err := store.ProfileTable(mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s (%s)\n", styles.header.Render("layout:"), mode, table)
		for _, col := range store.OptionalColumnNames() {
			ok, err := probe.HasColumn(ctx, table, col)
			if err != nil {
				return err
			}
			mark := styles.good.Render("present")
			if !ok {
				mark = styles.warn.Render("missing")
			}
			fmt.Fprintf(out, "  %-24s %s\n", col, mark)
		}
		return nil
	},
}

var recomputeCategory string

var recomputeCmd = &cobra.Command{
	Use:   "recompute [identifier]",
	Short: "Recompute one student's snapshot, or everyone's",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, ok := store.ParseCategory(recomputeCategory)
		if !ok {
			return fmt.Errorf("unknown category %q", recomputeCategory)
		}
		ctx := cmd.Context()
		e, closeFn, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			snap, err := e.OnFactChanged(ctx, args[0], category)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderSnapshot(snap))
			return nil
		}
		report, err := e.RecomputeAll(ctx, category)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d students: %d updated, %d unchanged, %d stale\n",
			report.Total, report.Updated, report.Unchanged, len(report.Stale))
		for _, s := range report.Stale {
			fmt.Fprintln(out, styles.warn.Render("  "+s.Error()))
		}
		if len(report.Stale) > 0 {
			return fmt.Errorf("%d snapshots left stale", len(report.Stale))
		}
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <identifier>",
	Short: "Print the live score breakdown next to the stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, closeFn, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		live, err := e.Aggregate(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderResult(live))

		view, err := e.Snapshot(ctx, args[0])
		if err != nil {
			fmt.Fprintln(out, styles.dim.Render("no stored snapshot: "+err.Error()))
			return nil
		}
		fmt.Fprintln(out, renderSnapshot(view.Snapshot))
		fmt.Fprintf(out, "%s %d points (%s)\n", styles.header.Render("attendance:"), view.AttendancePoints, view.PointsRank)
		if view.Rank > 0 {
			fmt.Fprintf(out, "%s #%d\n", styles.header.Render("rank:"), view.Rank)
		}
		if view.Score != live.OverallScore {
			fmt.Fprintln(out, styles.warn.Render("stored snapshot differs from live score; run recompute"))
		}
		return nil
	},
}

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "List the top students by stored score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, closeFn, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		top, err := e.Leaderboard(ctx, leaderboardLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range top {
			fmt.Fprintf(out, "%4d  %-36s %7.2f  %s\n", r.Rank, r.UserID, r.Score, badge(r.Badge))
		}
		return nil
	},
}

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show or change category weights",
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the weights in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, closeFn, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		ws, err := e.Weights().Get(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderWeights(ws, e.Weights().Defaults()))
		return nil
	},
}

var (
	weightValues map[string]string
	weightsActor string
)

var weightsSetCmd = &cobra.Command{
	Use:     "set",
	Short:   "Change one or more weights and re-aggregate every snapshot",
	Example: "  badgectl weights set --weight mastery=25 --weight seminars=5",
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parsePatch(weightValues)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		e, closeFn, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		next, report, err := e.SetWeights(ctx, patch, weightsActor)
		out := cmd.OutOrStdout()
		if report != nil {
			fmt.Fprintf(out, "%d students: %d updated, %d unchanged, %d stale\n",
				report.Total, report.Updated, report.Unchanged, len(report.Stale))
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderWeights(next, e.Weights().Defaults()))
		return nil
	},
}

// parsePatch turns --weight category=value flags into a patch.
func parsePatch(values map[string]string) (scoring.WeightPatch, error) {
	var p scoring.WeightPatch
	for name, raw := range values {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, fmt.Errorf("weight %s: %w", name, err)
		}
		c, ok := store.ParseCategory(strings.ToLower(name))
		if !ok || c == store.CategoryAll || c == store.CategoryWeights {
			return p, fmt.Errorf("unknown category %q", name)
		}
		switch c {
		case store.CategoryAcademic:
			p.Academic = &v
		case store.CategoryChallenges:
			p.Challenges = &v
		case store.CategoryMastery:
			p.Mastery = &v
		case store.CategorySeminars:
			p.Seminars = &v
		case store.CategoryExtracurricular:
			p.Extracurricular = &v
		}
	}
	if p.Empty() {
		return p, fmt.Errorf("no weights given")
	}
	return p, nil
}

func printReport(w io.Writer, r *store.ProvisionReport) {
	fmt.Fprintf(w, "%s %s\n", styles.header.Render("layout:"), r.Mode)
	if r.Bootstrapped {
		fmt.Fprintln(w, styles.good.Render("created account tables"))
	}
	if len(r.AddedColumns) == 0 {
		fmt.Fprintln(w, styles.dim.Render("no columns added"))
		return
	}
	for _, c := range r.AddedColumns {
		fmt.Fprintln(w, styles.good.Render("added column "+c))
	}
}

func init() {
	migrateCmd.Flags().StringVar(&migrateMode, "mode", "", "layout to create on an empty database (legacy|normalized)")
	migrateCmd.Flags().BoolVar(&migrateBootstrap, "bootstrap", false, "create account tables when none exist")

	recomputeCmd.Flags().StringVar(&recomputeCategory, "category", string(store.CategoryAll), "category that changed")
	leaderboardCmd.Flags().IntVarP(&leaderboardLimit, "limit", "n", 20, "rows to show")

	weightsSetCmd.Flags().StringToStringVar(&weightValues, "weight", nil, "category=value, repeatable")
	weightsSetCmd.Flags().StringVar(&weightsActor, "actor", "badgectl", "recorded as updated_by")
	weightsCmd.AddCommand(weightsShowCmd, weightsSetCmd)

	rootCmd.AddCommand(migrateCmd, probeCmd, recomputeCmd, scoreCmd, leaderboardCmd, weightsCmd)
}
