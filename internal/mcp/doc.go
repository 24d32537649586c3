// Package mcp implements the Model Context Protocol (MCP) server for localrag.
//
// The MCP server exposes four tools to AI assistants:
//   - rag_search: Hybrid search over every indexed collection
//   - rag_list_collections: List collections with counts
//   - rag_index: Bring one collection, or all of them, up to date
//   - rag_collection_info: Describe one collection
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout carries only protocol messages.
//
// # Basic Usage
//
//	localrag serve
//
// # Tool: rag_search
//
//	Request:
//	{
//	  "name": "rag_search",
//	  "arguments": {
//	    "query": "invoice from accounting",
//	    "collection": "obsidian",
//	    "author": "alice",
//	    "date_from": "2024-01-01",
//	    "top_k": 10
//	  }
//	}
//
//	Response:
//	{
//	  "count": 1,
//	  "search_mode": "hybrid",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.0163,
//	      "title": "Invoices",
//	      "content": "...",
//	      "collection": "obsidian",
//	      "source_path": "/vault/Finance/Invoices.md",
//	      "source_type": "markdown"
//	    }
//	  ]
//	}
//
// # Tool: rag_index
//
// Without a collection every configured collection is indexed:
//
//	{"name": "rag_index", "arguments": {"collection": "work", "force": false}}
//
// The response is the run summary: indexed, skipped, errors, deleted,
// total_found and up to ten error messages.
//
// # Error Handling
//
// Invalid parameters and unknown collections are returned as MCP errors:
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32001: Collection not found
//   - -32002: Indexing already in progress
//   - -32003: Collection not configured
//   - -32004: Empty query
//
// An unreachable embedding service is returned as a tool result with
// isError set, so the assistant can show the hint to the user.
package mcp
