// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes veil tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/veil/internal/controller"
	"github.com/starford/veil/internal/index"
	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

// Session is the visibility session exposed to agents.
type Session interface {
	Level() visibility.Level
	SetLevel(level visibility.Level) error
	Snapshot() (controller.State, error)
	Explain(path string, level *visibility.Level) controller.NoteDecision
}

// PanelLister enumerates open panels.
type PanelLister interface {
	Panels() []workspace.PanelInfo
}

// NoteLister lists indexed notes.
type NoteLister interface {
	ListNotes(folder string) ([]index.NoteRow, error)
}

// StyleSource returns the current stylesheet.
type StyleSource interface {
	Stylesheet() string
}

// ActivityTracker records user activity for the idle lock.
type ActivityTracker interface {
	Touch()
}

// Deps are the collaborators behind the tools. Activity may be nil.
type Deps struct {
	Session  Session
	Panels   PanelLister
	Notes    NoteLister
	Styles   StyleSource
	Activity ActivityTracker
}

// Server wraps the MCP server with veil tools.
type Server struct {
	mcp  *server.MCPServer
	deps Deps
}

const (
	policyURI     = "veil://visibility-policy"
	stylesheetURI = "veil://stylesheet"
)

// New creates a new MCP server with all veil tools registered.
func New(deps Deps) *Server {
	s := &Server{deps: deps}

	s.mcp = server.NewMCPServer(
		"veil",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	levelNames := make([]string, 0, 4)
	for _, l := range visibility.Levels() {
		levelNames = append(levelNames, l.String())
	}

	s.mcp.AddTool(mcp.NewTool("get_visibility_state",
		mcp.WithDescription("Return the current visibility level, settings, and the reveal decision for every open panel."),
	), s.getVisibilityState)

	s.mcp.AddTool(mcp.NewTool("set_visibility_level",
		mcp.WithDescription("Change the global visibility level. All open panels are re-evaluated immediately."),
		mcp.WithString("level", mcp.Required(), mcp.Enum(levelNames...),
			mcp.Description("New level ("+strings.Join(levelNames, ", ")+")")),
	), s.setVisibilityLevel)

	s.mcp.AddTool(mcp.NewTool("check_note_visibility",
		mcp.WithDescription("Explain whether a note would be shown or obscured, and which rule decided it. "+
			"Read the policy first via the "+policyURI+" resource. Does not change any state."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
		mcp.WithString("level", mcp.Description("Optional level to evaluate under instead of the current one")),
	), s.checkNoteVisibility)

	s.mcp.AddTool(mcp.NewTool("list_panels",
		mcp.WithDescription("List open panels with their kind and note path."),
	), s.listPanels)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List indexed notes with their folder and tags."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	// Resource: policy description.
	s.mcp.AddResource(
		mcp.NewResource(policyURI, "Visibility Policy",
			mcp.WithResourceDescription("How veil decides which notes are obscured."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPolicyResource,
	)

	// Resource: stylesheet for the current settings.
	s.mcp.AddResource(
		mcp.NewResource(stylesheetURI, "Stylesheet",
			mcp.WithResourceDescription("CSS injected into rendering surfaces for the current settings."),
			mcp.WithMIMEType("text/css"),
		),
		s.readStylesheetResource,
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
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getVisibilityState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.deps.Session.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) setVisibilityLevel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("level")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	level, err := visibility.ParseLevel(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.deps.Activity != nil {
		s.deps.Activity.Touch()
	}
	if err := s.deps.Session.SetLevel(level); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("level: %s", s.deps.Session.Level())), nil
}

func (s *Server) checkNoteVisibility(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var level *visibility.Level
	if raw, err := req.RequireString("level"); err == nil && raw != "" {
		l, err := visibility.ParseLevel(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		level = &l
	}
	return jsonResult(s.deps.Session.Explain(path, level))
}

func (s *Server) listPanels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	panels := s.deps.Panels.Panels()
	if len(panels) == 0 {
		return mcp.NewToolResultText("no open panels"), nil
	}
	return jsonResult(panels)
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}

	rows, err := s.deps.Notes.ListNotes(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	lines := make([]string, 0, len(rows))
	for i := range rows {
		line := rows[i].Path
		if names := slices.Sorted(maps.Keys(rows[i].TagSet())); len(names) > 0 {
			line += "\t" + strings.Join(names, " ")
		}
		lines = append(lines, line)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readPolicyResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      policyURI,
			MIMEType: "text/markdown",
			Text:     PolicyDescription,
		},
	}, nil
}

func (s *Server) readStylesheetResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      stylesheetURI,
			MIMEType: "text/css",
			Text:     s.deps.Styles.Stylesheet(),
		},
	}, nil
}
