package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/chat"
)

const mcpVersion = "1.0.0"

type mcpTools struct {
	tools *chat.Toolset
}

// NewMCPServer exposes the knowledge and history tools over MCP.
func NewMCPServer(tools *chat.Toolset) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "deep-research-mcp", Version: mcpVersion}, nil)
	t := &mcpTools{tools: tools}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search the local knowledge base using semantic search.",
	}, t.searchKnowledge)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research_report",
		Description: "Get the final report and sources of a saved research by its history id.",
	}, t.researchReport)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_research_history",
		Description: "List saved researches, newest first.",
	}, t.listHistory)
	return server
}

// NewMCPHandler serves server over the streamable HTTP transport.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (t *mcpTools) searchKnowledge(ctx context.Context, _ *mcp.CallToolRequest, args chat.SearchKnowledgeArgs) (*mcp.CallToolResult, chat.SearchKnowledgeResp, error) {
	resp, err := t.tools.SearchKnowledge(ctx, args)
	if err != nil {
		return nil, chat.SearchKnowledgeResp{}, err
	}
	text := resp.Results
	if text == "" {
		text = "No matching content found."
	}
	return textResult(text), resp, nil
}

func (t *mcpTools) researchReport(ctx context.Context, _ *mcp.CallToolRequest, args chat.ResearchReportArgs) (*mcp.CallToolResult, chat.ResearchReportResp, error) {
	resp, err := t.tools.ResearchReport(ctx, args)
	if err != nil {
		return nil, chat.ResearchReportResp{}, err
	}
	var b strings.Builder
	b.WriteString(resp.Report)
	if len(resp.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, u := range resp.Sources {
			fmt.Fprintf(&b, "[%d]: %s\n", i+1, u)
		}
	}
	return textResult(b.String()), resp, nil
}

// listHistory answers with text only.
func (t *mcpTools) listHistory(ctx context.Context, _ *mcp.CallToolRequest, args chat.ListHistoryArgs) (*mcp.CallToolResult, any, error) {
	resp, err := t.tools.ListHistory(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(resp.Entries)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return textResult(string(data)), nil, nil
}
