package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/searcher"
	"github.com/dshills/localrag/internal/service"
	"github.com/dshills/localrag/pkg/types"
)

// snippetLen caps the content shown per result
const snippetLen = 240

func newSearchCmd(a *app) *cobra.Command {
	var (
		filters types.SearchFilters
		topK    int
		mode    string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Performs hybrid search across all indexed collections.
Combines full-text (FTS5) and semantic (vector) results with weighted
reciprocal rank fusion.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := filters.Validate(); err != nil {
				return err
			}

			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			resp, err := svc.Search(cmd.Context(), strings.Join(args, " "), service.SearchOptions{
				TopK:    topK,
				Mode:    searcher.SearchMode(mode),
				Filters: filters,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), resp.Results)
			}
			printResults(cmd.OutOrStdout(), resp.Results)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&filters.Collection, "collection", "c", "", "only search this collection")
	f.StringVar(&filters.SourceType, "type", "", "only return this source type (markdown, code, commit, ...)")
	f.StringVar(&filters.Sender, "from", "", "sender contains this text")
	f.StringVar(&filters.Author, "author", "", "author contains this text")
	f.StringVar(&filters.DateFrom, "after", "", "on or after this date (YYYY-MM-DD)")
	f.StringVar(&filters.DateTo, "before", "", "on or before this date (YYYY-MM-DD)")
	f.IntVarP(&topK, "top", "k", 0, "maximum number of results (default search.top_k)")
	f.StringVar(&mode, "mode", string(searcher.SearchModeHybrid), "hybrid, vector or keyword")
	f.BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func printResults(w io.Writer, results []types.SearchResult) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "No results found.")
		return
	}

	for _, r := range results {
		title := r.Title
		if title == "" {
			title = r.SourcePath
		}
		_, _ = fmt.Fprintf(w, "[%d] %s (%.4f)\n", r.Rank, title, r.Score)
		_, _ = fmt.Fprintf(w, "    %s · %s · %s\n", r.Collection, r.SourceType, r.SourcePath)
		if s := snippet(r.Content, snippetLen); s != "" {
			_, _ = fmt.Fprintf(w, "    %s\n", s)
		}
		_, _ = fmt.Fprintln(w)
	}
}

// snippet collapses whitespace and truncates to n runes
func snippet(content string, n int) string {
	s := strings.Join(strings.Fields(content), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
