package mcp

import (
	"context"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/searcher"
	"github.com/dshills/localrag/internal/service"
	"github.com/dshills/localrag/internal/storage"
)

// ServerName is the MCP server name
const ServerName = "localrag"

// Backend is the subset of service.Service the tools call
type Backend interface {
	Search(ctx context.Context, query string, opts service.SearchOptions) (*searcher.Response, error)
	ListCollections(ctx context.Context) ([]storage.CollectionSummary, error)
	CollectionInfo(ctx context.Context, name string) (*storage.CollectionDetail, error)
	IndexCollection(ctx context.Context, name string, opts indexer.RunOptions) (*indexer.RunSummary, error)
	IndexAll(ctx context.Context, opts indexer.RunOptions) (*service.IndexAllResult, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  zerolog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(backend Backend, version string, logger zerolog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:     mcpServer,
		backend: backend,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the MCP protocol over the given streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	s.logger.Info().Str("server", ServerName).Msg("MCP server ready, listening on stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(listCollectionsTool(), s.handleListCollections)
	s.mcp.AddTool(indexTool(), s.handleIndex)
	s.mcp.AddTool(collectionInfoTool(), s.handleCollectionInfo)
}
