package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/searcher"
	"github.com/dshills/localrag/internal/service"
	"github.com/dshills/localrag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeCollectionNotFound = -32001 // Named collection does not exist
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeConfigurationError = -32003 // Collection is not configured
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleSearch handles the rag_search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
	if topK < 1 || topK > searcher.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", searcher.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	mode := searcher.SearchMode(getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	filters := types.SearchFilters{
		Collection: getStringDefault(args, "collection", ""),
		SourceType: getStringDefault(args, "source_type", ""),
		Sender:     getStringDefault(args, "sender", ""),
		Author:     getStringDefault(args, "author", ""),
		DateFrom:   getStringDefault(args, "date_from", ""),
		DateTo:     getStringDefault(args, "date_to", ""),
	}
	if err := filters.Validate(); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filters", map[string]interface{}{
			"reason": err.Error(),
		})
	}

	resp, err := s.backend.Search(ctx, query, service.SearchOptions{TopK: topK, Mode: mode, Filters: filters})
	if err != nil {
		if types.IsFatal(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := resp.Results
	if results == nil {
		results = []types.SearchResult{}
	}
	response := map[string]interface{}{
		"query":          query,
		"search_mode":    resp.Mode,
		"count":          len(results),
		"results":        results,
		"vector_results": resp.VectorResults,
		"text_results":   resp.TextResults,
		"duration_ms":    resp.Duration.Milliseconds(),
		"cache_hit":      resp.CacheHit,
	}
	if !filters.IsEmpty() {
		response["filters"] = filters
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListCollections handles the rag_list_collections tool invocation
func (s *Server) handleListCollections(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collections, err := s.backend.ListCollections(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list collections", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"count":       len(collections),
		"collections": collections,
	}
	if len(collections) == 0 {
		response["collections"] = []interface{}{}
		response["message"] = "No collections indexed yet. Use rag_index to index configured collections."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndex handles the rag_index tool invocation
func (s *Server) handleIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name := strings.TrimSpace(getStringDefault(args, "collection", ""))
	opts := indexer.RunOptions{Force: getBoolDefault(args, "force", false)}

	if name == "" {
		result, err := s.backend.IndexAll(ctx, opts)
		if err != nil {
			return s.indexError("", err)
		}
		response := map[string]interface{}{
			"collections": result.Collections,
			"total":       summaryJSON(result.Total),
		}
		if len(result.Failed) > 0 {
			response["failed"] = result.Failed
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	summary, err := s.backend.IndexCollection(ctx, name, opts)
	if err != nil {
		return s.indexError(name, err)
	}
	return mcp.NewToolResultText(formatJSON(summaryJSON(summary))), nil
}

// indexError maps an indexing failure to a tool error result or an MCP error
func (s *Server) indexError(name string, err error) (*mcp.CallToolResult, error) {
	s.logger.Error().Err(err).Str("collection", name).Msg("index tool failed")

	switch {
	case errors.Is(err, types.ErrEmbeddingUnavailable):
		return mcp.NewToolResultError(err.Error()), nil
	case errors.Is(err, types.ErrCollectionNotFound):
		return nil, newMCPError(ErrorCodeCollectionNotFound, "collection not found", map[string]interface{}{
			"collection": name,
		})
	case errors.Is(err, service.ErrIndexInProgress):
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
			"collection": name,
		})
	case errors.Is(err, types.ErrConfig):
		return nil, newMCPError(ErrorCodeConfigurationError, "collection is not configured", map[string]interface{}{
			"collection": name,
			"error":      err.Error(),
		})
	default:
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"collection": name,
			"error":      err.Error(),
		})
	}
}

// handleCollectionInfo handles the rag_collection_info tool invocation
func (s *Server) handleCollectionInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name := strings.TrimSpace(getStringDefault(args, "name", ""))
	if name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	info, err := s.backend.CollectionInfo(ctx, name)
	if errors.Is(err, types.ErrCollectionNotFound) {
		return nil, newMCPError(ErrorCodeCollectionNotFound, "collection not found", map[string]interface{}{
			"collection": name,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get collection info", map[string]interface{}{
			"error": err.Error(),
		})
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode collection info", nil)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Helper functions

// summaryJSON flattens a run summary for tool output
func summaryJSON(sum *indexer.RunSummary) map[string]interface{} {
	out := map[string]interface{}{
		"collection":  sum.Collection,
		"indexed":     sum.Indexed,
		"skipped":     sum.Skipped,
		"errors":      sum.Errors,
		"deleted":     sum.Deleted,
		"total_found": sum.TotalFound,
		"duration_ms": sum.Duration.Milliseconds(),
	}
	if sum.RunID != "" {
		out["run_id"] = sum.RunID
	}
	if len(sum.ErrorMessages) > 0 {
		out["error_messages"] = sum.ErrorMessages
	}
	if sum.Cancelled {
		out["cancelled"] = true
	}
	return out
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the tool arguments, empty when none were sent
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
