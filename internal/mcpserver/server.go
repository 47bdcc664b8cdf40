// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes contact consolidation tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/contactlink/internal/apperr"
	"github.com/starford/contactlink/internal/identity"
	"github.com/starford/contactlink/internal/models"
)

const contractURI = "contactlink://identify-contract"

// Engine is the consolidation engine the tools call into.
type Engine interface {
	Identify(ctx context.Context, req identity.Request) (*models.ConsolidatedIdentity, error)
	Cluster(ctx context.Context, id int64) (*models.ConsolidatedIdentity, error)
}

// Server wraps the MCP server with contactlink tools.
type Server struct {
	mcp    *server.MCPServer
	engine Engine
}

// New creates a new MCP server with all contactlink tools registered.
func New(engine Engine, version string) *Server {
	s := &Server{engine: engine}

	s.mcp = server.NewMCPServer(
		"contactlink",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("identify_contact",
		mcp.WithDescription("Resolve an email and/or phone number to a consolidated customer identity. "+
			"May create, link or merge contacts. At least one argument is required. "+
			"Read "+contractURI+" for the consolidation rules."),
		mcp.WithString("email", mcp.Description("Email address")),
		mcp.WithString("phoneNumber", mcp.Description("Phone number as digits")),
	), s.identifyContact)

	s.mcp.AddTool(mcp.NewTool("get_contact_cluster",
		mcp.WithDescription("Return the consolidated identity of the cluster containing a contact id. Read-only."),
		mcp.WithNumber("contactId", mcp.Required(), mcp.Description("Primary or secondary contact id")),
	), s.getContactCluster)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Identify Contract",
			mcp.WithResourceDescription("How identify requests are matched, merged and reported."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio serves MCP on stdin/stdout until ctx is cancelled or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves MCP over in/out until ctx is cancelled or in is exhausted.
// Cancellation is a clean stop.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) identifyContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var r identity.Request
	if email := req.GetString("email", ""); email != "" {
		r.Email = &email
	}
	if phone := req.GetString("phoneNumber", ""); phone != "" {
		r.PhoneNumber = &phone
	}

	result, err := s.engine.Identify(ctx, r)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) getContactCluster(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("contactId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if id <= 0 {
		return mcp.NewToolResultError("contactId must be positive"), nil
	}

	result, err := s.engine.Cluster(ctx, int64(id))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(result)
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     IdentifyContract,
		},
	}, nil
}

func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		return mcp.NewToolResultError("email or phoneNumber is required")
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("contact not found")
	case errors.Is(err, apperr.ErrStoreUnavailable):
		return mcp.NewToolResultError("store unavailable, retry later")
	default:
		return mcp.NewToolResultError(fmt.Sprintf("internal error: %v", err))
	}
}

func jsonResult(v *models.ConsolidatedIdentity) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}
