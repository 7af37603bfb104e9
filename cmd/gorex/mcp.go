package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/caffeineduck/gorex/sandbox"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the extractor as an MCP tool over stdio",
	Long: `Run a Model Context Protocol server over stdio (stdin/stdout) exposing one
tool, extract_html, backed by the sandboxed extraction service.

Logs go to stderr so they never interleave with the protocol stream.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func newMCPServer(svc *sandbox.Service) *server.MCPServer {
	s := server.NewMCPServer("gorex", version, server.WithToolCapabilities(false))

	tool := mcp.NewTool("extract_html",
		mcp.WithDescription("Extract the title, text, links, media and metadata of an HTML document inside a WebAssembly sandbox."),
		mcp.WithString("html",
			mcp.Required(),
			mcp.Description("The raw HTML document"),
		),
		mcp.WithString("url",
			mcp.Description("The page URL, used to resolve relative links"),
		),
		mcp.WithString("mode",
			mcp.Description("Extraction mode: 'article' (default), 'full', 'metadata' or 'custom' with fields"),
			mcp.Enum("article", "full", "metadata", "custom"),
		),
		mcp.WithArray("fields",
			mcp.Description("CSS selectors for custom mode"),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("stats",
			mcp.Description("Include processing statistics"),
		),
	)
	s.AddTool(tool, handleExtractHTML(svc))
	return s
}

func handleExtractHTML(svc *sandbox.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		html, err := request.RequireString("html")
		if err != nil {
			return mcp.NewToolResultError("html is required"), nil
		}
		mode, err := parseMode(request.GetString("mode", ""), request.GetStringSlice("fields", nil))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		req := extract.Request{HTML: html, URL: request.GetString("url", ""), Mode: mode}

		var res extractResult
		if request.GetBool("stats", false) {
			content, stats, err := svc.ExtractWithStats(ctx, req)
			if err != nil {
				return toolError(err), nil
			}
			res = extractResult{Content: content, Stats: &stats}
		} else {
			content, err := svc.Extract(ctx, req)
			if err != nil {
				return toolError(err), nil
			}
			res = extractResult{Content: content}
		}

		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	}
}

func toolError(err error) *mcp.CallToolResult {
	re := toResultError(err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", re.Kind, re.Message))
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, metrics.Nop{})
	if err != nil {
		return err
	}
	defer a.Close()

	return server.ServeStdio(newMCPServer(a.svc))
}
