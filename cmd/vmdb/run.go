package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/meteorwatch/vmdb/internal/app"
	"github.com/meteorwatch/vmdb/internal/config"
	"github.com/meteorwatch/vmdb/internal/csvimport"
	"github.com/meteorwatch/vmdb/internal/log"
	"github.com/meteorwatch/vmdb/internal/metrics"
	"github.com/meteorwatch/vmdb/internal/normalizer"
)

func newImportCmd(g *globals) *cobra.Command {
	var opts csvimport.Options

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Validate CSV exports and load them into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			im := csvimport.New(db.DB, opts, metrics.New(), log.GetSugaredLogger())
			rejected := 0
			for _, path := range args {
				report, err := im.ImportFile(cmd.Context(), path)
				if err != nil {
					if errors.Is(err, csvimport.ErrUnknownFile) || errors.Is(err, fs.ErrNotExist) {
						return withCode(exitSetup, err)
					}
					return withCode(exitDatabase, err)
				}
				rejected += report.Rejected
			}
			if rejected > 0 {
				return withCode(exitRejected, fmt.Errorf("%d rows rejected", rejected))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "Delete existing rows of the same kind before importing")
	cmd.Flags().BoolVar(&opts.Permissive, "permissive", false, "Accept values that exceed the usual limits")
	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "Repair recoverable values instead of rejecting rows")
	return cmd
}

func newNormalizeCmd(g *globals) *cobra.Command {
	var (
		workers int
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Build sessions, rates, magnitudes and their links from the staged rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				g.cfg.Normalizer.Workers = workers
			}
			if cmd.Flags().Changed("strict") {
				g.cfg.Normalizer.Strict = strict
			}
			warnings, err := g.cfg.Validate()
			if err != nil {
				return withCode(exitSetup, err)
			}
			for _, w := range warnings {
				log.Warn(w)
			}

			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			a := app.New(g.cfg, db, clockwork.NewRealClock(), log.GetSugaredLogger())
			res, err := a.Normalize(cmd.Context())
			if errors.Is(err, app.ErrSetup) {
				return withCode(exitSetup, err)
			}
			if errors.Is(err, normalizer.ErrConflict) {
				return withCode(exitConflicts, err)
			}
			if err != nil {
				return withCode(exitDatabase, err)
			}
			if res.HasErrors() {
				return withCode(exitConflicts, errors.New("records were dropped"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 1, "Number of parallel workers, partitioned by session")
	cmd.Flags().BoolVar(&strict, "strict", false, "Abort on the first record conflict")
	return cmd
}

func newSolarLongCmd(g *globals) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "solarlong",
		Short: "Fill the solar longitude lookup table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := g.cfg.SolarLong
			if from != "" {
				rng.Start = from
			}
			if to != "" {
				rng.End = to
			}
			start, end, err := rng.Range()
			if err != nil {
				return withCode(exitSetup, err)
			}

			db, err := g.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			a := app.New(g.cfg, db, clockwork.NewRealClock(), log.GetSugaredLogger())
			n, err := a.FillSolarLongitudes(cmd.Context(), start, end)
			if err != nil {
				return withCode(exitDatabase, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d days added\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day ("+config.DateLayout+")")
	cmd.Flags().StringVar(&to, "to", "", "Last day ("+config.DateLayout+"), tomorrow when empty")
	return cmd
}
