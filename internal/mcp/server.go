// Package mcp exposes the audit chain as MCP tools so agent runtimes
// can record and inspect audit events over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/query"
	"github.com/ppiankov/trustlog/internal/store"
)

// Server wraps the MCP SDK server around the chain components.
type Server struct {
	mcpServer *mcpsdk.Server
	appender  *ledger.Appender
	engine    *query.Engine
	verifier  *ledger.Verifier
}

// New creates an MCP server over an open store. The caller keeps
// ownership of the store and closes it after Run returns.
func New(st store.Store, version string) *Server {
	s := &Server{
		appender: ledger.NewAppender(st, nil),
		engine:   query.NewEngine(st),
		verifier: ledger.NewVerifier(st),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "trustlog",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all trustlog tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustlog_append",
		Description: "Record an audit event in the tamper-evident log. Returns the committed entry with its sequence and integrity hash.",
	}, s.handleAppend)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustlog_query",
		Description: "Search committed audit entries. All filters are ANDed; results are newest first unless order=asc.",
	}, s.handleQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "trustlog_verify",
		Description: "Recompute the hash chain over a sequence range and report either an intact verdict with a checkpoint or the first divergent sequence.",
	}, s.handleVerify)
}
