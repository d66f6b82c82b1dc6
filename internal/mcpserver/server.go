// Package mcpserver exposes Samuel's config, state, doc, and health
// tools over the Model Context Protocol so MCP clients can query the
// home automation setup.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"samuel/internal/configrepo"
	"samuel/internal/docs"
	"samuel/internal/health"
	"samuel/internal/homeassistant"
)

// StateSource is the slice of the Home Assistant client the state tools
// need. *homeassistant.Client satisfies it.
type StateSource interface {
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	StatesByDomain(ctx context.Context, domain string) ([]homeassistant.State, error)
	FindEntities(ctx context.Context, search string) ([]homeassistant.State, error)
	GetHistory(ctx context.Context, entityID string, hours int) ([]homeassistant.State, error)
	GetAreas(ctx context.Context) ([]homeassistant.Area, error)
	GetEntityRegistry(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error)
}

// ReportGenerator produces health reports. *health.Reporter satisfies it.
type ReportGenerator interface {
	Generate(ctx context.Context) (*health.Report, error)
}

// ChangeSource provides recent state changes. *homeassistant.ChangeRecorder
// satisfies it.
type ChangeSource interface {
	Recent(limit int) []homeassistant.Change
}

// Server is the Samuel MCP server.
type Server struct {
	repo     *configrepo.Reader
	docs     *docs.Reader
	ha       StateSource
	reporter ReportGenerator
	recorder ChangeSource
	logger   *slog.Logger

	mcp        *server.MCPServer
	streamable *server.StreamableHTTPServer
}

// New creates the MCP server and registers all tools. The recorder may
// be nil when the WebSocket event feed is not running; the
// get_recent_changes tool then reports that recording is disabled.
func New(repo *configrepo.Reader, docReader *docs.Reader, ha StateSource, reporter ReportGenerator, recorder ChangeSource, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		repo:     repo,
		docs:     docReader,
		ha:       ha,
		reporter: reporter,
		recorder: recorder,
		logger:   logger,
		mcp: server.NewMCPServer(
			"samuel",
			version,
			server.WithToolCapabilities(true),
			server.WithInstructions(
				"Samuel is the home intelligence agent. Use the available tools to "+
					"answer questions about the home automation config, check live "+
					"entity states, and read documentation. Config tools read YAML "+
					"files from the repo. State tools query the Home Assistant REST "+
					"API for live data.",
			),
		),
	}

	s.registerTools()
	return s
}

// registerTools wires every tool to its handler.
func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("read_config",
		mcp.WithDescription("Read a Home Assistant config file and return its contents."),
		mcp.WithString("filename", mcp.Required(),
			mcp.Description(`Config file name, e.g. "house_mode.yaml" or "packages/house_mode.yaml". The .yaml extension is optional.`)),
	), s.handleReadConfig)

	s.mcp.AddTool(mcp.NewTool("list_packages",
		mcp.WithDescription("List all HA package files with their automations and helpers."),
	), s.handleListPackages)

	s.mcp.AddTool(mcp.NewTool("list_automations",
		mcp.WithDescription("List all automations across all config files with triggers."),
	), s.handleListAutomations)

	s.mcp.AddTool(mcp.NewTool("list_scripts",
		mcp.WithDescription("List all scripts with their key actions."),
	), s.handleListScripts)

	s.mcp.AddTool(mcp.NewTool("search_config",
		mcp.WithDescription("Search across all config files for a pattern (case-insensitive regex)."),
		mcp.WithString("pattern", mcp.Required(),
			mcp.Description(`Search pattern, e.g. "quiet_hours", "reading_light", "brightness_pct".`)),
	), s.handleSearchConfig)

	s.mcp.AddTool(mcp.NewTool("get_entity_state",
		mcp.WithDescription("Get the current state of a Home Assistant entity."),
		mcp.WithString("entity_id", mcp.Required(),
			mcp.Description(`Full entity ID (e.g. "light.front_room_front_reading_light") or partial search (e.g. "porch light", "reading light").`)),
	), s.handleGetEntityState)

	s.mcp.AddTool(mcp.NewTool("get_entities_by_domain",
		mcp.WithDescription("List all entities for a domain with current state."),
		mcp.WithString("domain", mcp.Required(),
			mcp.Description(`Entity domain, e.g. "light", "switch", "automation", "input_boolean", "sensor".`)),
	), s.handleGetEntitiesByDomain)

	s.mcp.AddTool(mcp.NewTool("get_area_state",
		mcp.WithDescription("Get the state of all entities in a home area."),
		mcp.WithString("area", mcp.Required(),
			mcp.Description(`Area name, e.g. "living room", "porch", "master bedroom".`)),
	), s.handleGetAreaState)

	s.mcp.AddTool(mcp.NewTool("get_entity_history",
		mcp.WithDescription("Get recent state history for an entity."),
		mcp.WithString("entity_id", mcp.Required(),
			mcp.Description(`Full entity ID, e.g. "light.front_porch".`)),
		mcp.WithNumber("hours",
			mcp.Description("How many hours of history to fetch (default 24).")),
	), s.handleGetEntityHistory)

	s.mcp.AddTool(mcp.NewTool("get_recent_changes",
		mcp.WithDescription("List the most recent entity state changes observed live over WebSocket."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of changes to return (default 20).")),
	), s.handleGetRecentChanges)

	s.mcp.AddTool(mcp.NewTool("read_doc",
		mcp.WithDescription("Read a documentation file from the docs/ directory."),
		mcp.WithString("filename", mcp.Required(),
			mcp.Description(`Doc filename, e.g. "system_map.md", "lighting_standards.md". The .md extension is optional.`)),
	), s.handleReadDoc)

	s.mcp.AddTool(mcp.NewTool("get_system_map",
		mcp.WithDescription("Return the full system architecture map (docs/system_map.md)."),
	), s.handleGetSystemMap)

	s.mcp.AddTool(mcp.NewTool("generate_health_report",
		mcp.WithDescription("Generate a health diagnostic report for Home Assistant with error/warning counts, top issues, system info, and trend comparison with the previous run."),
	), s.handleGenerateHealthReport)
}

// ServeHTTP serves MCP over streamable HTTP on addr until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	s.streamable = server.NewStreamableHTTPServer(s.mcp)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening", "addr", addr, "transport", "streamable-http")
		if err := s.streamable.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("mcp server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.streamable.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcp server shutdown: %w", err)
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// ServeStdio serves MCP over stdin/stdout for desktop clients. Blocks
// until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("MCP server starting", "transport", "stdio")
	return server.ServeStdio(s.mcp)
}
