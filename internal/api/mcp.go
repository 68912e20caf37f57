package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/model"
	"github.com/loaderland/concept-runner/internal/pipeline"
)

// NewMCPServer creates the MCP server exposing the concept pipeline as
// tools. Each tool returns JSON text content; tool failures are reported as
// error results, never as a dead process.
func NewMCPServer(pipe *pipeline.Pipeline) *server.MCPServer {
	s := server.NewMCPServer(
		"concept-runner",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("Research pipeline for turning article ideas into evidence-backed drafts: create a concept, search sources, retrieve full text, analyze, then save and publish the article."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("concept_create",
			mcp.WithDescription("Create a research concept from an idea. Generates search queries and a URL slug."),
			mcp.WithString("idea", mcp.Description("The research idea, one or two sentences"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Source mode: pubmed, web, or both (default pubmed)")),
		),
		mcpCreate(pipe),
	)

	s.AddTool(
		mcp.NewTool("concept_search",
			mcp.WithDescription("Run the planned search queries and collect ranked candidate sources."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
		),
		mcpStage("search", pipe, func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error) {
			return pipe.Search(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("concept_retrieve_fulltext",
			mcp.WithDescription("Retrieve full text for every found source, filling the shared caches."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
		),
		mcpStage("retrieve_fulltext", pipe, func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error) {
			return pipe.RetrieveFulltext(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("concept_analyze",
			mcp.WithDescription("Run structured analysis over every found source that has none yet."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
		),
		mcpStage("analyze", pipe, func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error) {
			return pipe.Analyze(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("concept_get_analyses",
			mcp.WithDescription("Read all source analyses enriched with bibliographic metadata, for writing the article."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
		),
		mcpStage("get_analyses", pipe, func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error) {
			return pipe.GetAnalyses(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("concept_save_article",
			mcp.WithDescription("Save the written article draft onto the concept."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Article title"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Article body in markdown"), mcp.Required()),
			mcp.WithString("excerpt", mcp.Description("Short teaser paragraph")),
			mcp.WithString("cover_image_url", mcp.Description("Cover image URL")),
			mcp.WithString("sources", mcp.Description("JSON array of {ref, title, pmid, url} bibliography entries")),
		),
		mcpSaveArticle(pipe),
	)

	s.AddTool(
		mcp.NewTool("concept_publish",
			mcp.WithDescription("Publish the concept's saved article."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
		),
		mcpStage("publish", pipe, func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error) {
			return pipe.Publish(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("concept_status",
			mcp.WithDescription("Get the current status snapshot for a concept."),
			mcp.WithString("concept_id", mcp.Description("Concept ID"), mcp.Required()),
		),
		mcpStage("status", pipe, func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error) {
			return pipe.Status(ctx, id)
		}),
	)

	s.AddTool(
		mcp.NewTool("concept_list",
			mcp.WithDescription("List concepts, newest first."),
			mcp.WithString("status", mcp.Description("Optional status filter")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpList(pipe),
	)

	return s
}

func mcpCreate(pipe *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idea, err := req.RequireString("idea")
		if err != nil {
			return mcpError("idea is required"), nil
		}
		source := model.SourceMode(req.GetString("source", string(model.SourcePubMed)))

		res, err := pipe.Create(ctx, idea, source)
		if err != nil {
			return mcpError(fmt.Sprintf("create failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

// mcpStage wraps the single-argument stage operations, which all take a
// concept id and return a JSON-serializable result. Unexpected errors and
// panics mark the concept failed so it is never stranded in a live status
// with no error message.
func mcpStage(name string, pipe *pipeline.Pipeline, op func(ctx context.Context, pipe *pipeline.Pipeline, id string) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, retErr error) {
		id, err := req.RequireString("concept_id")
		if err != nil {
			return mcpError("concept_id is required"), nil
		}

		defer func() {
			if r := recover(); r != nil {
				panicErr := eris.Errorf("%s panicked: %v", name, r)
				pipe.MarkFailed(ctx, id, panicErr)
				result = mcpError(panicErr.Error())
				retErr = nil
			}
		}()

		res, err := op(ctx, pipe, id)
		if err != nil {
			if errors.Is(err, pipeline.ErrNotFound) || errors.Is(err, pipeline.ErrValidation) {
				return mcpError(err.Error()), nil
			}
			pipe.MarkFailed(ctx, id, err)
			zap.L().Error("tool failed",
				zap.String("tool", name),
				zap.String("concept_id", id),
				zap.Error(err),
			)
			return mcpError(fmt.Sprintf("%s failed: %v", name, err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpSaveArticle(pipe *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("concept_id")
		if err != nil {
			return mcpError("concept_id is required"), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		draft := model.ArticleDraft{
			Title:      title,
			Content:    content,
			Excerpt:    req.GetString("excerpt", ""),
			CoverImage: req.GetString("cover_image_url", ""),
		}
		if sourcesJSON := req.GetString("sources", ""); sourcesJSON != "" {
			if err := json.Unmarshal([]byte(sourcesJSON), &draft.Sources); err != nil {
				return mcpError(fmt.Sprintf("invalid sources JSON: %v", err)), nil
			}
		}

		res, err := pipe.SaveArticle(ctx, id, draft)
		if err != nil {
			return mcpError(fmt.Sprintf("save_article failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpList(pipe *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := model.Status(req.GetString("status", ""))
		if status != "" && !status.Valid() {
			return mcpError(fmt.Sprintf("unknown status %q", status)), nil
		}
		limit := req.GetInt("limit", 20)

		summaries, err := pipe.List(ctx, status, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}
		return mcpJSON(summaries)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
