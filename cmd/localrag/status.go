package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/service"
)

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics and embedding service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			st, err := svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printStatus(w io.Writer, st *service.Status) {
	_, _ = fmt.Fprintf(w, "Database:     %s\n", st.DBPath)
	if st.Index != nil {
		_, _ = fmt.Fprintf(w, "Build mode:   %s (schema %s)\n", st.Index.BuildMode, st.Index.SchemaVersion)
		_, _ = fmt.Fprintf(w, "Size:         %.2f MB\n", st.Index.DBSizeMB)
		_, _ = fmt.Fprintf(w, "Collections:  %d\n", st.Index.CollectionCount)
		_, _ = fmt.Fprintf(w, "Sources:      %d\n", st.Index.SourceCount)
		_, _ = fmt.Fprintf(w, "Chunks:       %d\n", st.Index.ChunkCount)
		_, _ = fmt.Fprintf(w, "Vectors:      %d\n", st.Index.VectorCount)
		if st.Index.LastIndexedAt != "" {
			_, _ = fmt.Fprintf(w, "Last indexed: %s\n", st.Index.LastIndexedAt)
		}
	}

	e := st.Embedding
	health := "reachable"
	if !e.Reachable {
		health = "unreachable"
		if e.Error != "" {
			health += ": " + e.Error
		}
	}
	_, _ = fmt.Fprintf(w, "Embedding:    %s %s (%d dims), %s\n", e.Provider, e.Model, e.Dimension, health)

	configured := "none"
	if len(st.Configured) > 0 {
		configured = strings.Join(st.Configured, ", ")
	}
	_, _ = fmt.Fprintf(w, "Configured:   %s\n", configured)
}
