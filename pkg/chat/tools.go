package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/deep-research/pkg/history"
	"github.com/mikeboe/deep-research/pkg/knowledge"
)

// KnowledgeSource is the part of knowledge.Store the tools read from.
type KnowledgeSource interface {
	Search(ctx context.Context, query string, resourceIDs []string, topK int) ([]knowledge.Chunk, error)
	Content(ctx context.Context, resourceID string) (string, error)
}

// ErrNoReport is returned when a history entry has no final report yet.
var ErrNoReport = errors.New("research has no final report")

// Toolset exposes the knowledge base and research history to the chat
// agent and to MCP clients.
type Toolset struct {
	Knowledge KnowledgeSource
	History   history.Store
	Logger    *slog.Logger
}

func NewToolset(kb KnowledgeSource, store history.Store) *Toolset {
	return &Toolset{Knowledge: kb, History: store, Logger: slog.Default()}
}

func (t *Toolset) Name() string {
	return "research_tools"
}

func (t *Toolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchKnowledgeArgs, SearchKnowledgeResp](
		functiontool.Config{
			Name:        "search_knowledge",
			Description: "Search the local knowledge base using semantic search.",
		},
		func(ctx tool.Context, args SearchKnowledgeArgs) (SearchKnowledgeResp, error) {
			return t.SearchKnowledge(ctx, args)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	contentTool, err := functiontool.New[ResourceContentArgs, ResourceContentResp](
		functiontool.Config{
			Name:        "get_resource_content",
			Description: "Return the full indexed text of one knowledge resource.",
		},
		func(ctx tool.Context, args ResourceContentArgs) (ResourceContentResp, error) {
			return t.ResourceContent(ctx, args)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource content tool: %w", err)
	}

	reportTool, err := functiontool.New[ResearchReportArgs, ResearchReportResp](
		functiontool.Config{
			Name:        "get_research_report",
			Description: "Return the final report and sources of a saved research.",
		},
		func(ctx tool.Context, args ResearchReportArgs) (ResearchReportResp, error) {
			return t.ResearchReport(ctx, args)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create report tool: %w", err)
	}

	historyTool, err := functiontool.New[ListHistoryArgs, ListHistoryResp](
		functiontool.Config{
			Name:        "list_research_history",
			Description: "List saved researches, newest first.",
		},
		func(ctx tool.Context, args ListHistoryArgs) (ListHistoryResp, error) {
			return t.ListHistory(ctx, args)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create history tool: %w", err)
	}

	return []tool.Tool{searchTool, contentTool, reportTool, historyTool}, nil
}

type SearchKnowledgeArgs struct {
	Query       string   `json:"query" jsonschema:"the search query"`
	TopK        int      `json:"topK,omitempty" jsonschema:"number of results to return (default 5)"`
	ResourceIDs []string `json:"resourceIds,omitempty" jsonschema:"optional resource ids to search in"`
}

type SearchKnowledgeResp struct {
	Results string `json:"results"`
}

func (t *Toolset) SearchKnowledge(ctx context.Context, args SearchKnowledgeArgs) (SearchKnowledgeResp, error) {
	if args.TopK == 0 {
		args.TopK = 5
	}
	t.logger().Info("Search knowledge", "query", args.Query, "topK", args.TopK, "resources", len(args.ResourceIDs))

	chunks, err := t.Knowledge.Search(ctx, args.Query, args.ResourceIDs, args.TopK)
	if err != nil {
		return SearchKnowledgeResp{}, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]string, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, fmt.Sprintf("[Resource]: %s (%s)\n[Score]: %.3f\n[Content]: %s", c.ResourceName, c.ResourceID, c.Score, c.Content))
	}
	return SearchKnowledgeResp{Results: strings.Join(results, "\n\n")}, nil
}

type ResourceContentArgs struct {
	ResourceID string `json:"resourceId" jsonschema:"the resource id"`
}

type ResourceContentResp struct {
	Content string `json:"content"`
}

func (t *Toolset) ResourceContent(ctx context.Context, args ResourceContentArgs) (ResourceContentResp, error) {
	content, err := t.Knowledge.Content(ctx, args.ResourceID)
	if err != nil {
		return ResourceContentResp{}, fmt.Errorf("failed to find content: %w", err)
	}
	return ResourceContentResp{Content: content}, nil
}

type ResearchReportArgs struct {
	ID string `json:"id" jsonschema:"the research history id"`
}

type ResearchReportResp struct {
	Title   string   `json:"title"`
	Report  string   `json:"report"`
	Sources []string `json:"sources"`
}

func (t *Toolset) ResearchReport(ctx context.Context, args ResearchReportArgs) (ResearchReportResp, error) {
	snap, err := t.History.Load(ctx, args.ID)
	if err != nil {
		return ResearchReportResp{}, fmt.Errorf("failed to load research: %w", err)
	}
	if snap == nil {
		return ResearchReportResp{}, fmt.Errorf("research %s: %w", args.ID, history.ErrNotFound)
	}
	if snap.FinalReport == "" {
		return ResearchReportResp{}, fmt.Errorf("research %s: %w", args.ID, ErrNoReport)
	}

	resp := ResearchReportResp{Title: snap.Title, Report: snap.FinalReport, Sources: []string{}}
	for _, s := range snap.Sources {
		resp.Sources = append(resp.Sources, s.URL)
	}
	return resp, nil
}

type ListHistoryArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of entries (default 20)"`
}

type ListHistoryResp struct {
	Entries []history.Summary `json:"entries"`
}

func (t *Toolset) ListHistory(ctx context.Context, args ListHistoryArgs) (ListHistoryResp, error) {
	if args.Limit <= 0 {
		args.Limit = 20
	}
	entries, err := t.History.List(ctx, args.Limit)
	if err != nil {
		return ListHistoryResp{}, fmt.Errorf("failed to list history: %w", err)
	}
	if entries == nil {
		entries = []history.Summary{}
	}
	return ListHistoryResp{Entries: entries}, nil
}

func (t *Toolset) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}
