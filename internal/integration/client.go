// Package integration proxies gateway calls to integration handlers
// over MCP streamable HTTP. Each proxied call uses a short-lived
// client so the caller's credential rides along in the request headers
// and never leaks into a shared session.
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toolgate/internal/store"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ErrHandlerUnavailable is returned when the integration handler cannot
// be reached or rejects the session handshake.
var ErrHandlerUnavailable = errors.New("integration handler unavailable")

// Proxy forwards tool calls and resource reads to integration handlers.
// Faked in gateway tests.
type Proxy interface {
	CallTool(ctx context.Context, integration store.Integration, accessToken, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, integration store.Integration, accessToken, uri string) (*mcp.ReadResourceResult, error)
}

// Client is the production Proxy over MCP streamable HTTP.
type Client struct {
	timeout time.Duration
}

// NewClient creates a proxy client with the given per-call timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// CallTool forwards one tool invocation to the integration's handler.
// toolName is the bare tool name; the integration prefix has already
// been stripped by the caller.
func (c *Client) CallTool(ctx context.Context, integration store.Integration, accessToken, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mcpClient, err := c.connect(ctx, integration, accessToken)
	if err != nil {
		return nil, err
	}
	defer mcpClient.Close()

	result, err := mcpClient.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %s on %s failed: %w", toolName, integration.Slug, err)
	}
	return result, nil
}

// ReadResource forwards one resource read to the integration's handler.
func (c *Client) ReadResource(ctx context.Context, integration store.Integration, accessToken, uri string) (*mcp.ReadResourceResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mcpClient, err := c.connect(ctx, integration, accessToken)
	if err != nil {
		return nil, err
	}
	defer mcpClient.Close()

	result, err := mcpClient.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: struct {
			URI       string         `json:"uri"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}{
			URI: uri,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("resource read %s on %s failed: %w", uri, integration.Slug, err)
	}
	return result, nil
}

// connect dials the handler and completes the session handshake. The
// access token, when present, is sent as a bearer Authorization header
// on every request of the session.
func (c *Client) connect(ctx context.Context, integration store.Integration, accessToken string) (*client.Client, error) {
	var options []transport.StreamableHTTPCOption
	if accessToken != "" {
		options = append(options, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + accessToken,
		}))
	}

	mcpClient, err := client.NewStreamableHttpClient(integration.HandlerAddress, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandlerUnavailable, err)
	}

	initRequest := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "toolgate",
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		mcpClient.Close()
		logging.Debug("Integration", "Handshake with %s (%s) failed: %v", integration.Slug, integration.HandlerAddress, err)
		return nil, fmt.Errorf("%w: %v", ErrHandlerUnavailable, err)
	}

	return mcpClient, nil
}
