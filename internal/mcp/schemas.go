package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolSearch          = "rag_search"
	ToolListCollections = "rag_list_collections"
	ToolIndex           = "rag_index"
	ToolCollectionInfo  = "rag_collection_info"
)

// searchTool returns the tool definition for rag_search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolSearch,
		Description: "Search personal notes, documents, code and commit history with hybrid semantic and keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"collection": map[string]interface{}{
					"type":        "string",
					"description": "Only return results from this collection (e.g. obsidian, a code group, a project)",
				},
				"source_type": map[string]interface{}{
					"type":        "string",
					"description": "Only return results of this source type",
					"enum":        []string{"markdown", "plaintext", "html", "code", "commit"},
				},
				"sender": map[string]interface{}{
					"type":        "string",
					"description": "Case-insensitive substring of the sender",
				},
				"author": map[string]interface{}{
					"type":        "string",
					"description": "Case-insensitive substring of the author or commit author",
				},
				"date_from": map[string]interface{}{
					"type":        "string",
					"description": "Inclusive lower date bound, YYYY-MM-DD",
				},
				"date_to": map[string]interface{}{
					"type":        "string",
					"description": "Inclusive upper date bound, YYYY-MM-DD",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (full-text only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
			},
			Required: []string{"query"},
		},
	}
}

// listCollectionsTool returns the tool definition for rag_list_collections
func listCollectionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolListCollections,
		Description: "List indexed collections with source and chunk counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// indexTool returns the tool definition for rag_index
func indexTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIndex,
		Description: "Bring a collection, or every configured collection, up to date",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"collection": map[string]interface{}{
					"type":        "string",
					"description": "Collection to index; omit to index all configured collections",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed every source ignoring stored fingerprints (full rebuild)",
					"default":     false,
				},
			},
		},
	}
}

// collectionInfoTool returns the tool definition for rag_collection_info
func collectionInfoTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCollectionInfo,
		Description: "Describe one collection: paths, counts, source types, sample titles and watermarks",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Collection name",
				},
			},
			Required: []string{"name"},
		},
	}
}
