package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/scheduler"
	"github.com/dshills/localrag/pkg/types"
)

func newScheduleCmd(a *app) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run \"index all\" on the configured cron schedule until interrupted",
		Long: `Keeps running and indexes every enabled collection whenever the
cron expression in the "schedule" setting fires, for example "0 */6 * * *".
A run that is still in progress when the next one is due is skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Schedule == "" {
				return fmt.Errorf("%w: schedule is not set", types.ErrConfig)
			}

			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			log := a.log.With().Str("component", "schedule").Logger()
			job := func(ctx context.Context) error {
				result, err := svc.IndexAll(ctx, indexer.RunOptions{})
				if result != nil {
					log.Info().
						Int("collections", len(result.Collections)).
						Int("failed", len(result.Failed)).
						Str("total", result.Total.String()).
						Msg("scheduled indexing finished")
				}
				return err
			}

			s, err := scheduler.New(a.cfg.Schedule, job, log)
			if err != nil {
				return err
			}

			if runNow {
				if err := job(cmd.Context()); err != nil && types.IsFatal(err) {
					return err
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %q, next run at %s. Press Ctrl+C to stop.\n",
				a.cfg.Schedule, s.Next(time.Now()).Format(time.RFC3339))

			err = s.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "index once immediately before waiting for the schedule")
	return cmd
}
