package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/llm"
)

// maxSelectedTools bounds how many discovered tools are bound to the LLM, to
// keep prompt size and spend in check.
const maxSelectedTools = 3

// maxToolTurns bounds the tool-calling conversation.
const maxToolTurns = 4

// MCP retrieves information by discovering tools on remote MCP servers,
// narrowing them to the few most relevant for the query, and letting the LLM
// decide which to call. Connections live for one Search call; nothing is
// cached across orchestration runs.
type MCP struct {
	servers []config.MCPServer
	llm     *llm.Client
	cost    llm.CostCallback
	logger  *slog.Logger
}

func NewMCP(servers []config.MCPServer, client *llm.Client, cost llm.CostCallback, logger *slog.Logger) *MCP {
	return &MCP{servers: servers, llm: client, cost: cost, logger: logger}
}

func (m *MCP) Name() string { return "mcp" }

func (m *MCP) CompleteResults() bool { return true }

type mcpTool struct {
	tool    *mcp.Tool
	session *mcp.ClientSession
	server  string
}

func (m *MCP) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	tools, closeAll, err := m.discover(ctx)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	if len(tools) == 0 {
		return nil, fmt.Errorf("no tools discovered on %d configured servers", len(m.servers))
	}

	selected := m.selectTools(ctx, query, tools)
	m.logger.Info("Selected MCP tools", "query", query, "count", len(selected))

	return m.runWithTools(ctx, query, selected, maxResults)
}

// discover connects to every configured server and lists its tools. A server
// that fails to connect contributes nothing.
func (m *MCP) discover(ctx context.Context) ([]mcpTool, func(), error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "report-engine", Version: "0.1.0"}, nil)

	var sessions []*mcp.ClientSession
	var tools []mcpTool

	closeAll := func() {
		for _, s := range sessions {
			_ = s.Close()
		}
	}

	for _, server := range m.servers {
		transport, err := m.transportFor(server)
		if err != nil {
			m.logger.Error("Invalid MCP server config", "server", server.Name, "error", err)
			continue
		}

		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			m.logger.Error("Failed to connect to MCP server", "server", server.Name, "error", err)
			continue
		}
		sessions = append(sessions, session)

		listed, err := session.ListTools(ctx, nil)
		if err != nil {
			m.logger.Error("Failed to list tools", "server", server.Name, "error", err)
			continue
		}
		for _, t := range listed.Tools {
			tools = append(tools, mcpTool{tool: t, session: session, server: server.Name})
		}
	}

	return tools, closeAll, nil
}

func (m *MCP) transportFor(server config.MCPServer) (mcp.Transport, error) {
	switch {
	case server.URL != "":
		return &mcp.StreamableClientTransport{Endpoint: server.URL}, nil
	case server.Command != "":
		return &mcp.CommandTransport{Command: exec.Command(server.Command, server.Args...)}, nil
	default:
		return nil, fmt.Errorf("server %s has neither url nor command", server.Name)
	}
}

// selectTools asks the LLM for the few tools most relevant to the query. On
// any failure the first few discovered tools are used instead.
func (m *MCP) selectTools(ctx context.Context, query string, tools []mcpTool) []mcpTool {
	if len(tools) <= maxSelectedTools {
		return tools
	}

	var catalog strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&catalog, "- %s: %s\n", t.tool.Name, t.tool.Description)
	}

	system := fmt.Sprintf(`You select research tools. Given a query and a tool catalog, pick the %d tools most likely to return useful information.
Respond with a JSON array of tool names only. Return the JSON array directly without any formatting or additional text.`, maxSelectedTools)
	input := fmt.Sprintf("Query: %s\n\nAvailable tools:\n%s", query, catalog.String())

	raw, err := m.llm.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llm.WithJSONMode(), llm.WithCostCallback(m.cost))
	if err != nil {
		m.logger.Warn("Tool selection call failed, using first discovered tools", "error", err)
		return tools[:maxSelectedTools]
	}

	names := parseToolNames(raw)
	if len(names) == 0 {
		return tools[:maxSelectedTools]
	}

	byName := make(map[string]mcpTool, len(tools))
	for _, t := range tools {
		byName[t.tool.Name] = t
	}

	var selected []mcpTool
	for _, name := range names {
		if t, ok := byName[name]; ok {
			selected = append(selected, t)
		}
		if len(selected) >= maxSelectedTools {
			break
		}
	}
	if len(selected) == 0 {
		return tools[:maxSelectedTools]
	}
	return selected
}

func parseToolNames(raw string) []string {
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err == nil {
		return names
	}

	// Tolerate an object payload like {"tools": [...]}.
	var wrapped struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		return wrapped.Tools
	}
	return nil
}

// runWithTools lets the LLM drive the selected tools and synthesize an
// analysis. Raw tool outputs are returned alongside the analysis so the
// compressor can weigh both.
func (m *MCP) runWithTools(ctx context.Context, query string, selected []mcpTool, maxResults int) ([]SearchResult, error) {
	byName := make(map[string]mcpTool, len(selected))
	bound := make([]llms.Tool, 0, len(selected))
	for _, t := range selected {
		byName[t.tool.Name] = t
		bound = append(bound, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.tool.Name,
				Description: t.tool.Description,
				Parameters:  t.tool.InputSchema,
			},
		})
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem,
			"You are a research assistant with access to external tools. Call the tools needed to gather information for the query, then summarize the key findings with specific facts and figures."),
		llms.TextParts(llms.ChatMessageTypeHuman, "Research query: "+query),
	}

	var results []SearchResult

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := m.llm.Generate(ctx, messages, llm.WithTools(bound), llm.WithCostCallback(m.cost))
		if err != nil {
			return nil, fmt.Errorf("tool invocation call failed: %w", err)
		}

		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			if text := strings.TrimSpace(choice.Content); text != "" {
				// Analysis leads so it ranks ahead of raw outputs.
				results = append([]SearchResult{{
					Title:   "Tool analysis: " + query,
					URL:     "mcp://analysis",
					Content: text,
				}}, results...)
			}
			break
		}

		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, tc)
		}
		messages = append(messages, assistant)

		for _, tc := range choice.ToolCalls {
			output := m.callTool(ctx, byName, tc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    output,
					},
				},
			})
			if output != "" {
				results = append(results, SearchResult{
					Title:   "Tool output: " + tc.FunctionCall.Name,
					URL:     "mcp://" + tc.FunctionCall.Name,
					Content: output,
				})
			}
		}
	}

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// callTool executes one tool call. Errors become error text visible to the
// model so it can route around a broken tool.
func (m *MCP) callTool(ctx context.Context, byName map[string]mcpTool, tc llms.ToolCall) string {
	t, ok := byName[tc.FunctionCall.Name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %s", tc.FunctionCall.Name)
	}

	var args map[string]any
	if tc.FunctionCall.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
			m.logger.Warn("Malformed tool arguments", "tool", tc.FunctionCall.Name, "error", err)
			return fmt.Sprintf("error: malformed arguments: %v", err)
		}
	}

	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      tc.FunctionCall.Name,
		Arguments: args,
	})
	if err != nil {
		m.logger.Error("Tool call failed", "tool", tc.FunctionCall.Name, "server", t.server, "error", err)
		return fmt.Sprintf("error: %v", err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
