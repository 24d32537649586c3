package main

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/storage"
)

func newCollectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection"},
		Short:   "List, inspect and delete collections",
	}
	cmd.AddCommand(newCollectionsListCmd(a), newCollectionsInfoCmd(a), newCollectionsDeleteCmd(a))
	return cmd
}

func newCollectionsListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			collections, err := svc.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if collections == nil {
					collections = []storage.CollectionSummary{}
				}
				return writeJSON(cmd.OutOrStdout(), collections)
			}
			printCollections(cmd.OutOrStdout(), collections)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printCollections(w io.Writer, collections []storage.CollectionSummary) {
	if len(collections) == 0 {
		_, _ = fmt.Fprintln(w, "No collections indexed yet.")
		return
	}
	_, _ = fmt.Fprintf(w, "%-24s %-8s %8s %8s  %s\n", "NAME", "TYPE", "SOURCES", "CHUNKS", "LAST INDEXED")
	for _, c := range collections {
		last := c.LastIndexedAt
		if last == "" {
			last = "never"
		}
		_, _ = fmt.Fprintf(w, "%-24s %-8s %8d %8d  %s\n", c.Name, c.Type, c.SourceCount, c.ChunkCount, last)
	}
}

func newCollectionsInfoCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of one collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			info, err := svc.CollectionInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			printCollectionInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printCollectionInfo(w io.Writer, info *storage.CollectionDetail) {
	_, _ = fmt.Fprintf(w, "Name:         %s\n", info.Name)
	_, _ = fmt.Fprintf(w, "Type:         %s\n", info.Type)
	if info.Description != "" {
		_, _ = fmt.Fprintf(w, "Description:  %s\n", info.Description)
	}
	_, _ = fmt.Fprintf(w, "Created:      %s\n", info.CreatedAt)
	if info.LastIndexedAt != "" {
		_, _ = fmt.Fprintf(w, "Last indexed: %s\n", info.LastIndexedAt)
	}
	_, _ = fmt.Fprintf(w, "Sources:      %d\n", info.SourceCount)
	_, _ = fmt.Fprintf(w, "Chunks:       %d\n", info.ChunkCount)
	if len(info.Paths) > 0 {
		_, _ = fmt.Fprintln(w, "Paths:")
		for _, p := range info.Paths {
			_, _ = fmt.Fprintf(w, "  %s\n", p)
		}
	}
	if len(info.SourceTypes) > 0 {
		_, _ = fmt.Fprintln(w, "Source types:")
		for _, t := range slices.Sorted(maps.Keys(info.SourceTypes)) {
			_, _ = fmt.Fprintf(w, "  %-10s %d\n", t, info.SourceTypes[t])
		}
	}
	if len(info.Watermarks) > 0 {
		_, _ = fmt.Fprintln(w, "Watermarks:")
		for _, k := range slices.Sorted(maps.Keys(info.Watermarks)) {
			_, _ = fmt.Fprintf(w, "  %s = %s\n", k, info.Watermarks[k])
		}
	}
	if len(info.SampleTitles) > 0 {
		_, _ = fmt.Fprintln(w, "Sample titles:")
		for _, t := range info.SampleTitles {
			_, _ = fmt.Fprintf(w, "  %s\n", t)
		}
	}
}

func newCollectionsDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection with all its sources, chunks and vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete collection %q? [y/N] ", name)) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if err := svc.DeleteCollection(cmd.Context(), name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s.\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// confirm reads one line and accepts y or yes
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
