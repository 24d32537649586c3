package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/service"
)

type indexFlags struct {
	force    bool
	progress bool
	json     bool
}

func (f *indexFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "re-embed every source, ignoring stored fingerprints")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "print each unit as it is processed")
	cmd.Flags().BoolVar(&f.json, "json", false, "output the run summary as JSON")
}

func (f *indexFlags) options(cmd *cobra.Command) indexer.RunOptions {
	opts := indexer.RunOptions{Force: f.force}
	if f.progress {
		w := cmd.ErrOrStderr()
		var mu sync.Mutex
		opts.Progress = func(current, total int, label string) {
			mu.Lock()
			defer mu.Unlock()
			_, _ = fmt.Fprintf(w, "  [%d/%d] %s\n", current, total, label)
		}
	}
	return opts
}

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index collections",
	}
	cmd.AddCommand(newIndexSourceCmd(a), newIndexProjectCmd(a), newIndexAllCmd(a))
	return cmd
}

func newIndexSourceCmd(a *app) *cobra.Command {
	var flags indexFlags
	cmd := &cobra.Command{
		Use:   "source <collection>",
		Short: "Index one collection: obsidian, a code group, or a stored project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			summary, err := svc.IndexCollection(cmd.Context(), args[0], flags.options(cmd))
			if summary != nil {
				if perr := printSummary(cmd.OutOrStdout(), summary, flags.json); perr != nil {
					return perr
				}
				a.noteErrors(summary.Errors)
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newIndexProjectCmd(a *app) *cobra.Command {
	var (
		flags       indexFlags
		description string
	)
	cmd := &cobra.Command{
		Use:   "project <name> <path>...",
		Short: "Index document folders or files into a named project collection",
		Long: `Index markdown, text, csv, json, yaml and html files under the given
paths into the project collection <name>. The paths are remembered, so later
runs can use "localrag index source <name>" or "localrag index all".`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			opts := flags.options(cmd)
			opts.Description = description
			summary, err := svc.IndexProject(cmd.Context(), args[0], args[1:], opts)
			if summary != nil {
				if perr := printSummary(cmd.OutOrStdout(), summary, flags.json); perr != nil {
					return perr
				}
				a.noteErrors(summary.Errors)
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&description, "description", "", "describe the collection (shown by collections info)")
	return cmd
}

func newIndexAllCmd(a *app) *cobra.Command {
	var flags indexFlags
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Index every enabled collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			result, err := svc.IndexAll(cmd.Context(), flags.options(cmd))
			if result != nil {
				if perr := printAllResult(cmd.OutOrStdout(), result, flags.json); perr != nil {
					return perr
				}
				a.noteErrors(result.Total.Errors + len(result.Failed))
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

// noteErrors switches the exit code to partial when units failed
func (a *app) noteErrors(n int) {
	if n > 0 {
		a.exitCode = exitPartial
	}
}

func printSummary(w io.Writer, s *indexer.RunSummary, asJSON bool) error {
	if asJSON {
		return writeJSON(w, s)
	}
	_, _ = fmt.Fprintf(w, "Collection: %s\n", s.Collection)
	_, _ = fmt.Fprintf(w, "  %s\n", s)
	if s.Deleted > 0 {
		_, _ = fmt.Fprintf(w, "  Deleted: %d\n", s.Deleted)
	}
	_, _ = fmt.Fprintf(w, "  Duration: %s\n", s.Duration.Round(time.Millisecond))
	if s.Cancelled {
		_, _ = fmt.Fprintln(w, "  Run was cancelled; finished units are saved.")
	}
	if len(s.ErrorMessages) > 0 {
		_, _ = fmt.Fprintln(w, "  Errors:")
		for _, m := range s.ErrorMessages {
			_, _ = fmt.Fprintf(w, "    - %s\n", m)
		}
	}
	return nil
}

func printAllResult(w io.Writer, r *service.IndexAllResult, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}
	for _, s := range r.Collections {
		if err := printSummary(w, s, false); err != nil {
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.Failed)) {
		_, _ = fmt.Fprintf(w, "Collection: %s\n  Failed: %s\n", name, r.Failed[name])
	}
	_, _ = fmt.Fprintf(w, "Total: %s\n", r.Total)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
