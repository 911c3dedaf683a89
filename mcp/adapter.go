// Package mcp provides integration with the Model Context Protocol (MCP).
// Plugins declare MCP servers in their manifest; the tools those servers
// expose are registered under the declaring plugin.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/i2y/clawkit/llm"
)

// Client wraps an MCP client session.
type Client struct {
	mcpClient *mcp.Client
	session   *mcp.ClientSession
	timeout   time.Duration
}

// Option configures the MCP client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout time.Duration
	env     map[string]string
}

// WithTimeout sets the timeout for tool execution.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithEnv adds environment variables to the server process.
func WithEnv(env map[string]string) Option {
	return func(c *clientConfig) {
		c.env = env
	}
}

// NewStdioClient creates an MCP client that communicates via stdio with a subprocess.
//
// Example:
//
//	client, err := mcp.NewStdioClient(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	tools, err := client.Tools(ctx)
func NewStdioClient(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	cfg := newClientConfig(opts)

	cmd := exec.Command(command, args...)
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), envList(cfg.env)...)
	}
	return connect(ctx, &mcp.CommandTransport{Command: cmd}, cfg)
}

// Connect creates a client over an arbitrary transport, such as one end of
// mcp.NewInMemoryTransports.
func Connect(ctx context.Context, transport mcp.Transport, opts ...Option) (*Client, error) {
	return connect(ctx, transport, newClientConfig(opts))
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func connect(ctx context.Context, transport mcp.Transport, cfg *clientConfig) (*Client, error) {
	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "clawkit",
		Version: "0.1.0",
	}, nil)

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server: %w", err)
	}

	return &Client{
		mcpClient: mcpClient,
		session:   session,
		timeout:   cfg.timeout,
	}, nil
}

// Tools returns all tools from the MCP server as llm.Tools.
//
// Example:
//
//	tools, err := client.Tools(ctx)
//	if err != nil {
//	    return err
//	}
//
//	registry := llm.NewToolRegistry()
//	registry.Register(tools...)
func (c *Client) Tools(ctx context.Context) ([]llm.Tool, error) {
	result, err := c.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("listing MCP tools: %w", err)
	}

	tools := make([]llm.Tool, 0, len(result.Tools))
	for i := range result.Tools {
		tools = append(tools, &mcpToolWrapper{
			client:  c,
			mcpTool: result.Tools[i],
		})
	}

	return tools, nil
}

// Close closes the MCP client connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// mcpToolWrapper wraps an MCP tool to implement llm.Tool.
type mcpToolWrapper struct {
	client  *Client
	mcpTool *mcp.Tool
}

func (t *mcpToolWrapper) Name() string {
	return t.mcpTool.Name
}

func (t *mcpToolWrapper) Description() string {
	return t.mcpTool.Description
}

func (t *mcpToolWrapper) Parameters() *jsonschema.Schema {
	// Convert MCP input schema to jsonschema.Schema
	schemaBytes, err := json.Marshal(t.mcpTool.InputSchema)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}

	return &schema
}

func (t *mcpToolWrapper) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	// Apply timeout
	ctx, cancel := context.WithTimeout(ctx, t.client.timeout)
	defer cancel()

	// Parse arguments
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("parsing arguments: %w", err)
		}
	}

	// Call the MCP tool
	result, err := t.client.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.mcpTool.Name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("calling MCP tool: %w", err)
	}

	combined := processToolResult(result.Content)

	if result.IsError {
		return nil, fmt.Errorf("MCP tool error: %s", combined)
	}

	return combined, nil
}

// processToolResult extracts text content from MCP tool result.
// Multiple content items are joined with newlines.
// Non-text content (images, resources) are represented as descriptive text.
func processToolResult(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch item := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, item.Text)
		case *mcp.ImageContent:
			// Return image info as text description
			parts = append(parts, fmt.Sprintf("[Image: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.EmbeddedResource:
			// Return resource info with URI
			if item.Resource != nil {
				parts = append(parts, fmt.Sprintf("[Resource: %s]", item.Resource.URI))
			} else {
				parts = append(parts, "[Resource: embedded]")
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToolsFromMCP is a convenience function to get tools from an MCP server.
//
// Example:
//
//	tools, cleanup, err := mcp.ToolsFromMCP(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
//	registry.Register(tools...)
func ToolsFromMCP(ctx context.Context, command string, args []string, opts ...Option) ([]llm.Tool, func() error, error) {
	mcpClient, err := NewStdioClient(ctx, command, args, opts...)
	if err != nil {
		return nil, nil, err
	}
	return toolsAndCloser(ctx, mcpClient)
}

// ToolsFromTransport is ToolsFromMCP for a server reached over transport.
func ToolsFromTransport(ctx context.Context, transport mcp.Transport, opts ...Option) ([]llm.Tool, func() error, error) {
	mcpClient, err := Connect(ctx, transport, opts...)
	if err != nil {
		return nil, nil, err
	}
	return toolsAndCloser(ctx, mcpClient)
}

func toolsAndCloser(ctx context.Context, c *Client) ([]llm.Tool, func() error, error) {
	tools, err := c.Tools(ctx)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return tools, c.Close, nil
}

// envList renders env as KEY=VALUE pairs in key order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
