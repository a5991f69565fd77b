// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the block, import, merge and lineage operations to LLM
// collaborators via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/blocks"
	"github.com/starford/loom/internal/graph"
	"github.com/starford/loom/internal/importer"
	"github.com/starford/loom/internal/lineage"
	"github.com/starford/loom/internal/links"
	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/sse"
	"github.com/starford/loom/internal/synthesis"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Services are the operations exposed as tools. Events may be nil.
type Services struct {
	Blocks   *blocks.Service
	Links    *links.Service
	Importer *importer.Service
	Merger   *synthesis.Service
	Lineage  *lineage.Resolver
	Graph    *graph.Projector
	Events   sse.Notifier
	Logger   *slog.Logger
}

// Server wraps the MCP server with loom tools.
type Server struct {
	mcp *server.MCPServer
	svc Services
}

// New creates a new MCP server with all tools registered.
func New(svc Services) *Server {
	if svc.Events == nil {
		svc.Events = sse.Discard
	}
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Loom",
		Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_blocks",
		mcp.WithDescription("List the live blocks of a document in reading order."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
	), s.listBlocks)

	s.mcp.AddTool(mcp.NewTool("get_block",
		mcp.WithDescription("Read one block, including soft-deleted ones."),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block id")),
	), s.getBlock)

	s.mcp.AddTool(mcp.NewTool("list_links",
		mcp.WithDescription("List the semantic links of a block with their far endpoint resolved."),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block id")),
		mcp.WithString("direction", mcp.Description("outgoing (default) or incoming"), mcp.Enum("outgoing", "incoming")),
	), s.listLinks)

	s.mcp.AddTool(mcp.NewTool("import_proposal",
		mcp.WithDescription("Import a block-tree proposal into a document. "+
			"The proposal MUST follow the proposal format contract. Read it first via "+
			"the get_proposal_contract tool or the "+contractURI+" resource."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Target document id")),
		mcp.WithString("proposal", mcp.Required(), mcp.Description("Proposal as JSON or YAML")),
		mcp.WithString("mode", mcp.Description("atomic (default) or streaming"), mcp.Enum("atomic", "streaming")),
	), s.importProposal)

	s.mcp.AddTool(mcp.NewTool("merge_blocks",
		mcp.WithDescription("Synthesize several blocks into one new block in the target document and record provenance."),
		mcp.WithArray("block_ids", mcp.Required(), mcp.Description("Source block ids"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("target_document_id", mcp.Required(), mcp.Description("Document receiving the merged block")),
		mcp.WithString("session_id", mcp.Description("Active research session to log the operation under")),
		mcp.WithString("instructions", mcp.Description("Free-form guidance for the synthesizer")),
	), s.mergeBlocks)

	s.mcp.AddTool(mcp.NewTool("get_lineage",
		mcp.WithDescription("Walk the provenance of a block back through its sources."),
		mcp.WithString("block_id", mcp.Required(), mcp.Description("Block id")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum levels to walk (default 5)")),
	), s.getLineage)

	s.mcp.AddTool(mcp.NewTool("provenance_graph",
		mcp.WithDescription("Project provenance of a session or a project into nodes and links. "+
			"Pass exactly one of session_id and project_id."),
		mcp.WithString("session_id", mcp.Description("Research session id")),
		mcp.WithString("project_id", mcp.Description("Project id")),
	), s.provenanceGraph)

	s.mcp.AddTool(mcp.NewTool("get_proposal_contract",
		mcp.WithDescription("Returns the proposal format contract. "+
			"Call this before producing proposals or merge answers."),
	), s.getProposalContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Proposal Format Contract",
			mcp.WithResourceDescription("Block-tree proposal format that imports accept."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult reports err to the model. Partial failures keep their
// committed ids so the caller can reconcile.
func errorResult(err error) *mcp.CallToolResult {
	if pf, ok := apperr.AsPartial(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("%v (committed: %v)", err, pf.CommittedIDs))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.Blocks.ListActiveBlocks(ctx, doc)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(items)
}

func (s *Server) getBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("block_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := s.svc.Blocks.GetBlock(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(b)
}

func (s *Server) listLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("block_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir := links.Direction(req.GetString("direction", string(links.Outgoing)))
	items, err := s.svc.Links.List(ctx, id, dir)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(items)
}

func (s *Server) importProposal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("proposal")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := proposal.Parse([]byte(raw))
	if err != nil {
		return errorResult(err), nil
	}
	if p.DocumentID != "" && p.DocumentID != doc {
		return mcp.NewToolResultError(fmt.Sprintf("proposal names document %s but document_id is %s", p.DocumentID, doc)), nil
	}
	mode := importer.Mode(req.GetString("mode", string(importer.ModeAtomic)))
	res, err := s.svc.Importer.Import(ctx, doc, p, importer.Options{Mode: mode})
	if err != nil {
		return errorResult(err), nil
	}
	s.svc.Events.Notify(sse.ImportCompleted, map[string]any{
		"document_id": doc,
		"blocks":      len(res.BlockIDs),
		"links":       len(res.Links),
	})
	return jsonResult(res)
}

func (s *Server) mergeBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := req.RequireStringSlice("block_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target_document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Merger.MergeBlocks(ctx, synthesis.MergeInput{
		BlockIDs:         ids,
		TargetDocumentID: target,
		SessionID:        req.GetString("session_id", ""),
		Instructions:     req.GetString("instructions", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	s.svc.Events.Notify(sse.MergeCompleted, map[string]any{
		"block_id":    res.Block.ID,
		"document_id": res.Block.DocumentID,
		"sources":     len(res.Provenance),
	})
	return jsonResult(res)
}

func (s *Server) getLineage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("block_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	depth := req.GetInt("max_depth", 0)
	if depth < 0 || depth > 50 {
		return mcp.NewToolResultError("max_depth must be between 1 and 50"), nil
	}
	res, err := s.svc.Lineage.GetFullLineage(ctx, id, depth)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) provenanceGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := s.svc.Graph.BuildProvenanceGraph(ctx, graph.Scope{
		SessionID: req.GetString("session_id", ""),
		ProjectID: req.GetString("project_id", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(g)
}
