package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dshills/localrag/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout exposing
rag_search, rag_list_collections, rag_index and rag_collection_info.
Logs are written to stderr or the configured log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			a.log.Info().
				Str("version", version).
				Str("db_path", a.cfg.DBPath).
				Msg("starting MCP server")

			err = mcp.NewServer(svc, version, a.log.Logger).Serve(cmd.Context())
			if errors.Is(err, context.Canceled) {
				a.log.Info().Msg("MCP server stopped")
				return nil
			}
			return err
		},
	}
}
