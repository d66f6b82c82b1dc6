package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"samuel/internal/configrepo"
	"samuel/internal/docs"
	"samuel/internal/health"
	"samuel/internal/homeassistant"
)

// fakeHA is an in-memory StateSource with a handful of entities across
// two areas.
type fakeHA struct {
	states  []homeassistant.State
	history []homeassistant.State
	err     error
}

func newFakeHA() *fakeHA {
	return &fakeHA{
		states: []homeassistant.State{
			{
				EntityID: "light.front_porch",
				State:    "on",
				Attributes: map[string]any{
					"friendly_name":      "Front Porch",
					"brightness":         float64(128),
					"supported_features": float64(32),
				},
				LastChanged: time.Date(2026, 8, 23, 6, 30, 0, 0, time.UTC),
			},
			{
				EntityID:   "light.kitchen",
				State:      "off",
				Attributes: map[string]any{"friendly_name": "Kitchen Light"},
			},
			{
				EntityID: "sensor.outdoor_temp",
				State:    "21.5",
				Attributes: map[string]any{
					"friendly_name":       "Outdoor Temperature",
					"unit_of_measurement": "°C",
				},
			},
		},
		history: []homeassistant.State{
			{State: "off", LastChanged: time.Date(2026, 8, 23, 1, 0, 0, 0, time.UTC)},
			{State: "on", LastChanged: time.Date(2026, 8, 23, 6, 30, 0, 0, time.UTC)},
		},
	}
}

func (f *fakeHA) GetStates(ctx context.Context) ([]homeassistant.State, error) {
	return f.states, f.err
}

func (f *fakeHA) GetState(ctx context.Context, entityID string) (*homeassistant.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i, s := range f.states {
		if s.EntityID == entityID {
			return &f.states[i], nil
		}
	}
	return nil, homeassistant.ErrNotFound
}

func (f *fakeHA) StatesByDomain(ctx context.Context, domain string) ([]homeassistant.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []homeassistant.State
	for _, s := range f.states {
		if s.Domain() == domain {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeHA) FindEntities(ctx context.Context, search string) ([]homeassistant.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	needle := strings.ReplaceAll(strings.ToLower(search), " ", "_")
	var out []homeassistant.State
	for _, s := range f.states {
		fname := strings.ReplaceAll(strings.ToLower(s.FriendlyName()), " ", "_")
		if strings.Contains(s.EntityID, needle) || strings.Contains(fname, needle) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeHA) GetHistory(ctx context.Context, entityID string, hours int) ([]homeassistant.State, error) {
	if f.err != nil {
		return nil, f.err
	}
	if entityID == "light.front_porch" {
		return f.history, nil
	}
	return nil, nil
}

func (f *fakeHA) GetAreas(ctx context.Context) ([]homeassistant.Area, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []homeassistant.Area{
		{AreaID: "kitchen", Name: "Kitchen"},
		{AreaID: "porch", Name: "Front Porch", Aliases: []string{"outside"}},
	}, nil
}

func (f *fakeHA) GetEntityRegistry(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []homeassistant.EntityRegistryEntry{
		{EntityID: "light.front_porch", AreaID: "porch"},
		{EntityID: "light.kitchen", AreaID: "kitchen"},
		{EntityID: "sensor.outdoor_temp", AreaID: "porch", DisabledBy: "user"},
	}, nil
}

type fakeReporter struct {
	report *health.Report
	err    error
}

func (f *fakeReporter) Generate(ctx context.Context) (*health.Report, error) {
	return f.report, f.err
}

type fakeChanges struct {
	changes []homeassistant.Change
}

func (f *fakeChanges) Recent(limit int) []homeassistant.Change {
	if limit < len(f.changes) {
		return f.changes[:limit]
	}
	return f.changes
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// fixtureRepo builds a minimal HA config repo with packages and docs.
func fixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "configuration.yaml"), strings.Join([]string{
		"homeassistant:",
		"  name: Home",
		"  packages: !include_dir_named packages",
		"",
	}, "\n"))

	writeFile(t, filepath.Join(root, "scripts.yaml"), strings.Join([]string{
		"goodnight:",
		"  alias: Goodnight",
		"  sequence:",
		"    - service: light.turn_off",
		"      target:",
		"        entity_id: light.kitchen",
		"",
	}, "\n"))

	writeFile(t, filepath.Join(root, "packages", "house_mode.yaml"), strings.Join([]string{
		"input_boolean:",
		"  quiet_hours:",
		"    name: Quiet Hours",
		"automation:",
		"  - id: house_mode_night",
		"    alias: Night mode at 23",
		"    trigger:",
		"      - platform: time",
		"        at: \"23:00:00\"",
		"    action: []",
		"",
	}, "\n"))

	writeFile(t, filepath.Join(root, "docs", "system_map.md"),
		"# System Map\n\nEverything connects to everything.\n")
	writeFile(t, filepath.Join(root, "docs", "lighting_standards.md"),
		"# Lighting Standards\n\nWarm white after sunset.\n")

	return root
}

func testServer(t *testing.T) *Server {
	t.Helper()
	root := fixtureRepo(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	reporter := &fakeReporter{report: &health.Report{Markdown: "# Morning Health Packet: 2026-08-23\n\n## Status: All Clear\n"}}
	recorder := &fakeChanges{changes: []homeassistant.Change{
		{EntityID: "light.kitchen", OldState: "on", NewState: "off", When: time.Date(2026, 8, 23, 7, 5, 0, 0, time.UTC)},
	}}
	return New(configrepo.NewReader(root, logger), docs.NewReader(root), newFakeHA(), reporter, recorder, "test", logger)
}

func callReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, want TextContent", result.Content[0])
	}
	return text.Text
}

func TestHandleReadConfig(t *testing.T) {
	s := testServer(t)

	result, err := s.handleReadConfig(context.Background(), callReq(map[string]any{"filename": "house_mode"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "quiet_hours") {
		t.Errorf("output missing file content:\n%s", text)
	}
}

func TestHandleReadConfig_NotFound(t *testing.T) {
	s := testServer(t)

	result, err := s.handleReadConfig(context.Background(), callReq(map[string]any{"filename": "nope.yaml"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "File 'nope.yaml' not found.") {
		t.Errorf("missing not-found message:\n%s", text)
	}
	if !strings.Contains(text, "  - configuration.yaml") ||
		!strings.Contains(text, "  - packages/house_mode.yaml") {
		t.Errorf("missing available file listing:\n%s", text)
	}
}

func TestHandleReadConfig_MissingArgument(t *testing.T) {
	s := testServer(t)

	result, err := s.handleReadConfig(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing filename")
	}
}

func TestHandleListPackages(t *testing.T) {
	s := testServer(t)

	result, err := s.handleListPackages(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "- **house_mode**: 1 automation(s), 1 input_boolean") {
		t.Errorf("unexpected package summary:\n%s", text)
	}
}

func TestHandleListAutomations(t *testing.T) {
	s := testServer(t)

	result, err := s.handleListAutomations(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "### packages/house_mode.yaml") {
		t.Errorf("missing file heading:\n%s", text)
	}
	if !strings.Contains(text, "- **Night mode at 23** (id: house_mode_night)") {
		t.Errorf("missing automation line:\n%s", text)
	}
	if !strings.Contains(text, "Triggers: time at 23:00:00") {
		t.Errorf("missing trigger summary:\n%s", text)
	}
}

func TestHandleListScripts(t *testing.T) {
	s := testServer(t)

	result, err := s.handleListScripts(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "### scripts.yaml") {
		t.Errorf("missing file heading:\n%s", text)
	}
	if !strings.Contains(text, "- **goodnight** (Goodnight)") {
		t.Errorf("missing script line:\n%s", text)
	}
	if !strings.Contains(text, "  - light.turn_off → light.kitchen") {
		t.Errorf("missing action line:\n%s", text)
	}
}

func TestHandleSearchConfig(t *testing.T) {
	s := testServer(t)

	result, err := s.handleSearchConfig(context.Background(), callReq(map[string]any{"pattern": "quiet_hours"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Found 1 match(es) for 'quiet_hours':") {
		t.Errorf("missing match header:\n%s", text)
	}
	if !strings.Contains(text, "**packages/house_mode.yaml:**") {
		t.Errorf("missing file group:\n%s", text)
	}
	if !strings.Contains(text, "line 2: quiet_hours:") {
		t.Errorf("missing match line:\n%s", text)
	}
}

func TestHandleSearchConfig_NoMatches(t *testing.T) {
	s := testServer(t)

	result, err := s.handleSearchConfig(context.Background(), callReq(map[string]any{"pattern": "zigbee"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); got != "No matches found for 'zigbee'." {
		t.Errorf("got %q", got)
	}
}

func TestHandleSearchConfig_InvalidPattern(t *testing.T) {
	s := testServer(t)

	result, err := s.handleSearchConfig(context.Background(), callReq(map[string]any{"pattern": "[unclosed"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for invalid regex")
	}
}

func TestHandleGetEntityState_DirectID(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntityState(context.Background(), callReq(map[string]any{"entity_id": "light.front_porch"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "**Front Porch** (`light.front_porch`)") {
		t.Errorf("missing header:\n%s", text)
	}
	if !strings.Contains(text, "State: **on**") {
		t.Errorf("missing state line:\n%s", text)
	}
	if !strings.Contains(text, "brightness: 50%") {
		t.Errorf("brightness not converted to percent:\n%s", text)
	}
	if strings.Contains(text, "supported_features") {
		t.Errorf("noisy attribute not filtered:\n%s", text)
	}
	if !strings.Contains(text, "last_changed: 2026-08-23T06:30:00Z") {
		t.Errorf("missing last_changed:\n%s", text)
	}
}

func TestHandleGetEntityState_FuzzySingle(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntityState(context.Background(), callReq(map[string]any{"entity_id": "outdoor temp"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "**Outdoor Temperature** (`sensor.outdoor_temp`)") {
		t.Errorf("fuzzy single match not formatted as full state:\n%s", text)
	}
}

func TestHandleGetEntityState_FuzzyMultiple(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntityState(context.Background(), callReq(map[string]any{"entity_id": "light"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Found 2 entities matching 'light':") {
		t.Errorf("missing multi-match header:\n%s", text)
	}
	if !strings.Contains(text, "- **light.front_porch** (Front Porch): on") {
		t.Errorf("missing match line:\n%s", text)
	}
}

func TestHandleGetEntityState_NoMatch(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntityState(context.Background(), callReq(map[string]any{"entity_id": "garage door"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); got != "No entity found matching 'garage door'." {
		t.Errorf("got %q", got)
	}
}

func TestHandleGetEntitiesByDomain(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntitiesByDomain(context.Background(), callReq(map[string]any{"domain": "light"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "**light** — 2 entities:") {
		t.Errorf("missing header:\n%s", text)
	}
	if !strings.Contains(text, "- `light.kitchen`: **off** (Kitchen Light)") {
		t.Errorf("missing entity line:\n%s", text)
	}
}

func TestHandleGetAreaState_ByAlias(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetAreaState(context.Background(), callReq(map[string]any{"area": "outside"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "**Front Porch** — 1 entities:") {
		t.Errorf("missing header (disabled entity should be excluded):\n%s", text)
	}
	if !strings.Contains(text, "- `light.front_porch`: **on**, brightness: 50% (Front Porch)") {
		t.Errorf("missing entity line with detail:\n%s", text)
	}
}

func TestHandleGetAreaState_Unknown(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetAreaState(context.Background(), callReq(map[string]any{"area": "attic"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Unknown area 'attic'.") {
		t.Errorf("missing unknown-area message:\n%s", text)
	}
	if !strings.Contains(text, "Known areas: Front Porch, Kitchen") {
		t.Errorf("missing known-area listing:\n%s", text)
	}
}

func TestHandleGetEntityHistory(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntityHistory(context.Background(), callReq(map[string]any{"entity_id": "light.front_porch"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "**light.front_porch** — 2 states over the last 24 hours:") {
		t.Errorf("missing header (default hours):\n%s", text)
	}
	if !strings.Contains(text, "- 2026-08-23 06:30:00: **on**") {
		t.Errorf("missing history line:\n%s", text)
	}
}

func TestHandleGetEntityHistory_Empty(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetEntityHistory(context.Background(), callReq(map[string]any{
		"entity_id": "light.kitchen",
		"hours":     float64(6),
	}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); got != "No history found for 'light.kitchen' in the last 6 hours." {
		t.Errorf("got %q", got)
	}
}

func TestHandleGetRecentChanges(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetRecentChanges(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Last 1 state changes (newest first):") {
		t.Errorf("missing header:\n%s", text)
	}
	if !strings.Contains(text, "- 07:05:00 `light.kitchen`: on → off") {
		t.Errorf("missing change line:\n%s", text)
	}
}

func TestHandleGetRecentChanges_NoRecorder(t *testing.T) {
	s := testServer(t)
	s.recorder = nil

	result, err := s.handleGetRecentChanges(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); !strings.Contains(got, "not enabled") {
		t.Errorf("got %q", got)
	}
}

func TestHandleReadDoc(t *testing.T) {
	s := testServer(t)

	result, err := s.handleReadDoc(context.Background(), callReq(map[string]any{"filename": "lighting_standards"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); !strings.Contains(got, "Warm white after sunset.") {
		t.Errorf("missing doc content:\n%s", got)
	}
}

func TestHandleReadDoc_NotFound(t *testing.T) {
	s := testServer(t)

	result, err := s.handleReadDoc(context.Background(), callReq(map[string]any{"filename": "missing.md"}))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "File 'missing.md' not found in docs/.") {
		t.Errorf("missing not-found message:\n%s", text)
	}
	if !strings.Contains(text, "system_map.md") {
		t.Errorf("missing available docs listing:\n%s", text)
	}
}

func TestHandleGetSystemMap(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGetSystemMap(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); !strings.Contains(got, "# System Map") {
		t.Errorf("missing system map content:\n%s", got)
	}
}

func TestHandleGenerateHealthReport(t *testing.T) {
	s := testServer(t)

	result, err := s.handleGenerateHealthReport(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if got := resultText(t, result); !strings.Contains(got, "## Status: All Clear") {
		t.Errorf("missing report markdown:\n%s", got)
	}
}

func TestHandleGenerateHealthReport_Error(t *testing.T) {
	s := testServer(t)
	s.reporter = &fakeReporter{err: errors.New("disk full")}

	result, err := s.handleGenerateHealthReport(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if !result.IsError {
		t.Error("expected error result when report generation fails")
	}
}
