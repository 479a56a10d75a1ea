// Package gateway is the orchestrating core: it authenticates inbound
// calls, resolves namespaced tool names to integrations, obtains valid
// credentials, proxies to integration handlers, and records usage.
package gateway

import (
	"context"
	"errors"
	"time"

	"toolgate/internal/connection"
	"toolgate/internal/integration"
	"toolgate/internal/registry"
	"toolgate/internal/store"
	"toolgate/internal/usage"
	"toolgate/pkg/logging"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// Authenticator resolves a raw API secret to its principal.
// Implemented by apikey.Store.
type Authenticator interface {
	Resolve(ctx context.Context, rawSecret string) (store.Principal, error)
}

// CredentialSource supplies valid access credentials for proxied calls.
// Implemented by connection.Manager.
type CredentialSource interface {
	GetValidCredential(ctx context.Context, principalID uuid.UUID, integration store.Integration) (string, error)
}

// Gateway dispatches the outward-facing operations. It holds no
// per-call state; every operation is independent.
type Gateway struct {
	auth        Authenticator
	registry    *registry.Registry
	credentials CredentialSource
	proxy       integration.Proxy
	usage       *usage.Recorder
}

// New wires a gateway from its collaborators.
func New(auth Authenticator, reg *registry.Registry, credentials CredentialSource, proxy integration.Proxy, recorder *usage.Recorder) *Gateway {
	return &Gateway{
		auth:        auth,
		registry:    reg,
		credentials: credentials,
		proxy:       proxy,
		usage:       recorder,
	}
}

// ListTools returns the routable tool catalog for the caller: every
// tool of every integration the principal has an enabled connection
// to, named "<slug>/<toolName>".
func (g *Gateway) ListTools(ctx context.Context, rawKey string) ([]mcp.Tool, error) {
	principal, err := g.auth.Resolve(ctx, rawKey)
	if err != nil {
		return nil, classify(err)
	}

	enabled, err := g.registry.ListEnabledFor(ctx, principal.ID)
	if err != nil {
		return nil, classify(err)
	}

	tools := []mcp.Tool{}
	for _, e := range enabled {
		for _, def := range e.Integration.Tools {
			tools = append(tools, toMCPTool(e.Integration.Slug, def))
		}
	}
	return tools, nil
}

// ListResources returns the routable resource catalog for the caller,
// with each URI prefixed by its integration's slug.
func (g *Gateway) ListResources(ctx context.Context, rawKey string) ([]mcp.Resource, error) {
	principal, err := g.auth.Resolve(ctx, rawKey)
	if err != nil {
		return nil, classify(err)
	}

	enabled, err := g.registry.ListEnabledFor(ctx, principal.ID)
	if err != nil {
		return nil, classify(err)
	}

	resources := []mcp.Resource{}
	for _, e := range enabled {
		for _, def := range e.Integration.Resources {
			resources = append(resources, mcp.Resource{
				URI:         JoinName(e.Integration.Slug, def.URITemplate),
				Name:        def.URITemplate,
				Description: def.Description,
			})
		}
	}
	return resources, nil
}

// CallTool authenticates, routes, and proxies one tool invocation.
//
// Usage-record policy: failures during authentication, name parsing,
// integration resolution, or connection lookup short-circuit without a
// usage record; once credential acquisition begins, exactly one record
// is written no matter how the call ends. A tool-level error result
// from the handler is returned to the caller as-is and recorded as an
// error.
func (g *Gateway) CallTool(ctx context.Context, rawKey, namespacedName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	principal, err := g.auth.Resolve(ctx, rawKey)
	if err != nil {
		return nil, classify(err)
	}

	slug, toolName, err := SplitName(namespacedName)
	if err != nil {
		return nil, classify(err)
	}

	integ, err := g.registry.BySlug(ctx, slug)
	if err != nil {
		return nil, classify(err)
	}

	// From here on the call has side effects (refresh writes, proxy
	// I/O, the usage record). A caller that disconnects mid-flight
	// must not abort them; only the bounded per-call timeouts apply.
	ctx = context.WithoutCancel(ctx)

	credStart := time.Now()
	accessToken, err := g.credentials.GetValidCredential(ctx, principal.ID, integ)
	if err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			return nil, classify(err)
		}
		g.usage.Record(ctx, principal.ID, integ.ID, toolName, time.Since(credStart), store.StatusError)
		return nil, classify(err)
	}

	start := time.Now()
	result, err := g.proxy.CallTool(ctx, integ, accessToken, toolName, args)
	latency := time.Since(start)
	if err != nil {
		g.usage.Record(ctx, principal.ID, integ.ID, toolName, latency, store.StatusError)
		logging.Warn("Gateway", "Tool call %s failed for principal %s: %v", namespacedName, principal.ID, err)
		return nil, classifyProxy(err)
	}

	status := store.StatusSuccess
	if result != nil && result.IsError {
		status = store.StatusError
	}
	g.usage.Record(ctx, principal.ID, integ.ID, toolName, latency, status)

	logging.Debug("Gateway", "Tool call %s for principal %s completed in %s (status=%s)", namespacedName, principal.ID, latency, status)
	return result, nil
}

// ReadResource authenticates, routes, and proxies one resource read.
// Symmetric to CallTool, with the namespaced URI standing in for the
// tool name in the usage log.
func (g *Gateway) ReadResource(ctx context.Context, rawKey, namespacedURI string) (*mcp.ReadResourceResult, error) {
	principal, err := g.auth.Resolve(ctx, rawKey)
	if err != nil {
		return nil, classify(err)
	}

	slug, uri, err := SplitName(namespacedURI)
	if err != nil {
		return nil, classify(err)
	}

	integ, err := g.registry.BySlug(ctx, slug)
	if err != nil {
		return nil, classify(err)
	}

	ctx = context.WithoutCancel(ctx)

	credStart := time.Now()
	accessToken, err := g.credentials.GetValidCredential(ctx, principal.ID, integ)
	if err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			return nil, classify(err)
		}
		g.usage.Record(ctx, principal.ID, integ.ID, namespacedURI, time.Since(credStart), store.StatusError)
		return nil, classify(err)
	}

	start := time.Now()
	result, err := g.proxy.ReadResource(ctx, integ, accessToken, uri)
	latency := time.Since(start)
	if err != nil {
		g.usage.Record(ctx, principal.ID, integ.ID, namespacedURI, latency, store.StatusError)
		return nil, classifyProxy(err)
	}

	g.usage.Record(ctx, principal.ID, integ.ID, namespacedURI, latency, store.StatusSuccess)
	return result, nil
}

// toMCPTool renders a catalog tool definition as an MCP tool with its
// namespaced routable name.
func toMCPTool(slug string, def store.ToolDef) mcp.Tool {
	return mcp.Tool{
		Name:        JoinName(slug, def.Name),
		Description: def.Description,
		InputSchema: toMCPSchema(def.InputSchema),
	}
}

// toMCPSchema converts a stored JSON-schema document into the MCP
// input schema shape. Definitions without a schema declare an empty
// object so clients can still validate.
func toMCPSchema(schema map[string]interface{}) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
	}
	if schema == nil {
		return out
	}

	if t, ok := schema["type"].(string); ok && t != "" {
		out.Type = t
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}
