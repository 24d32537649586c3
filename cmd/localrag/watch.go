package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/service"
	"github.com/dshills/localrag/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var noInitial bool
	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Re-index a collection whenever its files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			paths, err := svc.WatchPaths(cmd.Context(), name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			reindex := func(ctx context.Context) error {
				summary, err := svc.IndexCollection(ctx, name, indexer.RunOptions{})
				if errors.Is(err, service.ErrIndexInProgress) {
					a.log.Warn().Str("collection", name).Msg("indexing already in progress, change ignored")
					return nil
				}
				if summary != nil {
					_, _ = fmt.Fprintf(out, "%s: %s\n", name, summary)
				}
				return err
			}

			if !noInitial {
				if err := reindex(cmd.Context()); err != nil {
					return err
				}
			}

			w, err := watcher.New(paths, a.cfg.WatchDebounce, reindex, a.log.Logger)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Watching %s. Press Ctrl+C to stop.\n", strings.Join(paths, ", "))

			err = w.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noInitial, "no-initial", false, "skip the index run at startup")
	return cmd
}
