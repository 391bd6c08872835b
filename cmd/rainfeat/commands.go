package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/rainfall-grid-etl/internal/adapter/http"
	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/features"
	"github.com/couchcryptid/rainfall-grid-etl/internal/pipeline"
	"github.com/couchcryptid/rainfall-grid-etl/internal/rastersync"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newSyncCmd(appRef func() *app) *cobra.Command {
	var dates []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the local raster cache from the remote archive and prune old days.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()
			s, err := a.synchronizer()
			if err != nil {
				return err
			}

			if len(dates) > 0 {
				days, err := parseDates(dates)
				if err != nil {
					return err
				}
				var errs []error
				results := make([]rastersync.DayResult, 0, len(days))
				for _, d := range days {
					r := s.SyncDay(cmd.Context(), d)
					results = append(results, r)
					if r.Err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", d.Format(domain.LayoutISO), r.Err))
					}
				}
				printSyncResults(cmd.OutOrStdout(), results)
				return errors.Join(errs...)
			}

			summary := s.Run(cmd.Context())
			printSyncResults(cmd.OutOrStdout(), summary.Results)
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", len(summary.Prune.Removed))
			return summary.Err()
		},
	}
	cmd.Flags().StringSliceVar(&dates, "date", nil, "sync only these dates (YYYY-MM-DD), without pruning")
	return cmd
}

func newFeaturesCmd(appRef func() *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "features [YYYY-MM-DD ...]",
		Short: "Extract, score, and write features for target dates (default yesterday).",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appRef()
			dates, err := targetDates(a, args, from, to)
			if err != nil {
				return err
			}
			p, err := a.pipeline(cmd.Context())
			if err != nil {
				return err
			}
			report := p.Run(cmd.Context(), dates)
			printReport(cmd.OutOrStdout(), report)
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date of a range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date of a range (YYYY-MM-DD), defaults to yesterday")
	return cmd
}

func newDescribeCmd(appRef func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe [YYYY-MM-DD]",
		Short: "Print per-feature means for one date without writing output.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appRef()
			dates, err := targetDates(a, args, "", "")
			if err != nil {
				return err
			}
			engine, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			set, err := engine.Extract(cmd.Context(), dates[0])
			if err != nil {
				return err
			}
			printMeans(cmd.OutOrStdout(), set, features.Means(set))
			return nil
		},
	}
}

func newRunCmd(appRef func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync, then write features for yesterday unless already done today.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()
			daily, err := newDaily(cmd.Context(), a)
			if err != nil {
				return err
			}
			ran, err := daily.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintf(cmd.OutOrStdout(), "already up to date for %s\n", daily.Target().Format(domain.LayoutISO))
			}
			return nil
		},
	}
}

func newDaemonCmd(appRef func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the daily cycle on an interval and serve health and metrics.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appRef()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			daily, err := newDailyFor(a, p)
			if err != nil {
				return err
			}
			srv := httpadapter.NewServer(a.cfg.HTTPAddr, p, nil, a.logger)

			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("http server error", "error", err)
					stop()
				}
			}()

			loopErr := daily.Loop(ctx, a.cfg.RunInterval)

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}
			a.logger.Info("shutdown complete")
			return loopErr
		},
	}
}

func newDaily(ctx context.Context, a *app) (*pipeline.Daily, error) {
	p, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return newDailyFor(a, p)
}

func newDailyFor(a *app, p *pipeline.Pipeline) (*pipeline.Daily, error) {
	s, err := a.synchronizer()
	if err != nil {
		return nil, err
	}
	sync := func(ctx context.Context) error { return s.Run(ctx).Err() }
	return pipeline.NewDaily(sync, p, a.cfg.LastRunFile, a.clock, a.logger.With("component", "daily")), nil
}

// targetDates resolves positional dates, a --from/--to range, or yesterday.
func targetDates(a *app, args []string, from, to string) ([]time.Time, error) {
	if len(args) > 0 {
		if from != "" || to != "" {
			return nil, errors.New("pass dates as arguments or as --from/--to, not both")
		}
		return parseDates(args)
	}
	yesterday := domain.AddDays(domain.Today(a.clock), -1)
	if from == "" {
		if to != "" {
			return nil, errors.New("--to needs --from")
		}
		return []time.Time{yesterday}, nil
	}

	start, err := domain.ParseDate(from)
	if err != nil {
		return nil, err
	}
	end := yesterday
	if to != "" {
		if end, err = domain.ParseDate(to); err != nil {
			return nil, err
		}
	}
	if end.Before(start) {
		return nil, fmt.Errorf("--to %s is before --from %s", end.Format(domain.LayoutISO), from)
	}
	n := int(end.Sub(start).Hours()/24) + 1
	return domain.DateRange(end, n), nil
}

func parseDates(args []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(args))
	for _, s := range args {
		d, err := domain.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

func printSyncResults(w io.Writer, results []rastersync.DayResult) {
	table := newTable(w, []string{"Date", "Outcome", "Extracted", "Zip\nRemoved", "Error"})
	for _, r := range results {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		table.Append([]string{
			r.Date.Format(domain.LayoutISO),
			string(r.Outcome),
			strconv.FormatBool(r.Extracted),
			strconv.FormatBool(r.ZipRemoved),
			msg,
		})
	}
	table.Render()
}

func printReport(w io.Writer, report pipeline.Report) {
	table := newTable(w, []string{"Requested", "Rainfall\nThrough", "Snapped", "Rows", "Stage", "Output / Error"})
	for _, r := range report.Results {
		row := []string{r.Requested.Format(domain.LayoutISO), "", "", "", "", ""}
		if !r.Resolved.IsZero() {
			row[1] = r.Resolved.Format(domain.LayoutISO)
		}
		if r.Manifest != nil {
			row[2] = strconv.FormatBool(r.Manifest.Snapped)
			row[3] = strconv.Itoa(r.Manifest.Rows)
		}
		if r.Err != nil {
			row[4] = string(r.Stage())
			row[5] = r.Err.Error()
		} else {
			row[5] = r.Dir
		}
		table.Append(row)
	}
	table.Render()
	fmt.Fprintf(w, "%d written, %d failed\n", report.Succeeded(), report.Failed())
}

func printMeans(w io.Writer, set *domain.FeatureSet, means []features.FeatureMean) {
	fmt.Fprintf(w, "Requested: %s  Rainfall through: %s  Window: %s..%s  Cells: %d\n",
		set.Requested.Format(domain.LayoutISO),
		set.Resolved.Format(domain.LayoutISO),
		set.WindowStart.Format(domain.LayoutISO),
		set.Resolved.Format(domain.LayoutISO),
		len(set.Rows),
	)
	fmt.Fprintf(w, "Available days: %d  Missing: %d  Unreadable: %d  Static misses: %d\n",
		set.AvailableDays, set.MissingDays, set.UnreadableDays, set.StaticMisses)

	table := newTable(w, []string{"Feature", "Mean", "Valid\nCells"})
	for _, m := range means {
		mean := "n/a"
		if !math.IsNaN(m.Mean) {
			mean = fmt.Sprintf("%.3f", m.Mean)
		}
		table.Append([]string{m.Name, mean, strconv.Itoa(m.Valid)})
	}
	table.Render()
}
