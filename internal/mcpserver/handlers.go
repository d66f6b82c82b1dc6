package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"samuel/internal/homeassistant"
)

func (s *Server) handleReadConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError("filename argument is required"), nil
	}

	content, err := s.repo.ReadRaw(filename)
	if errors.Is(err, os.ErrNotExist) {
		var b strings.Builder
		fmt.Fprintf(&b, "File '%s' not found.\n\nAvailable config files:\n", filename)
		for _, f := range s.repo.Files() {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read config: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleListPackages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pkgs := s.repo.Packages()
	if pkgs == nil {
		return mcp.NewToolResultText("No packages/ directory found."), nil
	}

	var lines []string
	for _, pkg := range pkgs {
		name := strings.TrimSuffix(pkg.Name, ".yaml")
		if pkg.ParseError {
			lines = append(lines, fmt.Sprintf("- %s: (empty or parse error)", name))
			continue
		}

		var parts []string
		if pkg.Automations > 0 {
			parts = append(parts, fmt.Sprintf("%d automation(s)", pkg.Automations))
		}
		for _, h := range pkg.Helpers {
			parts = append(parts, fmt.Sprintf("%d %s", h.Count, h.Kind))
		}
		if pkg.Scripts > 0 {
			parts = append(parts, fmt.Sprintf("%d script(s)", pkg.Scripts))
		}

		summary := "config only"
		if len(parts) > 0 {
			summary = strings.Join(parts, ", ")
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", name, summary))
	}

	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleListAutomations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	autos := s.repo.Automations()
	if len(autos) == 0 {
		return mcp.NewToolResultText("No automations found."), nil
	}

	sort.Slice(autos, func(i, j int) bool {
		if autos[i].File != autos[j].File {
			return autos[i].File < autos[j].File
		}
		return autos[i].Alias < autos[j].Alias
	})

	var lines []string
	currentFile := ""
	for _, a := range autos {
		if a.File != currentFile {
			currentFile = a.File
			lines = append(lines, "\n### "+currentFile)
		}
		triggers := "none"
		if len(a.Triggers) > 0 {
			triggers = strings.Join(a.Triggers, "; ")
		}
		lines = append(lines, fmt.Sprintf("- **%s** (id: %s)", a.Alias, a.ID))
		lines = append(lines, "  Triggers: "+triggers)
	}

	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleListScripts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scripts := s.repo.Scripts()
	if len(scripts) == 0 {
		return mcp.NewToolResultText("No scripts found."), nil
	}

	sort.Slice(scripts, func(i, j int) bool {
		if scripts[i].File != scripts[j].File {
			return scripts[i].File < scripts[j].File
		}
		return scripts[i].Name < scripts[j].Name
	})

	var lines []string
	currentFile := ""
	for _, sc := range scripts {
		if sc.File != currentFile {
			currentFile = sc.File
			lines = append(lines, "\n### "+currentFile)
		}
		alias := ""
		if sc.Alias != "" {
			alias = fmt.Sprintf(" (%s)", sc.Alias)
		}
		lines = append(lines, fmt.Sprintf("- **%s**%s", sc.Name, alias))
		for i, action := range sc.Actions {
			if i == 5 {
				lines = append(lines, fmt.Sprintf("  - ... and %d more", len(sc.Actions)-5))
				break
			}
			lines = append(lines, "  - "+action)
		}
	}

	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleSearchConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := request.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError("pattern argument is required"), nil
	}

	matches, err := s.repo.Search(pattern)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No matches found for '%s'.", pattern)), nil
	}

	lines := []string{fmt.Sprintf("Found %d match(es) for '%s':\n", len(matches), pattern)}
	currentFile := ""
	for _, m := range matches {
		if m.File != currentFile {
			currentFile = m.File
			lines = append(lines, fmt.Sprintf("\n**%s:**", currentFile))
		}
		lines = append(lines, fmt.Sprintf("  line %d: %s", m.Line, m.Text))
	}

	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleGetEntityState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := request.RequireString("entity_id")
	if err != nil {
		return mcp.NewToolResultError("entity_id argument is required"), nil
	}

	// A term with a dot and no spaces looks like a full entity ID; try a
	// direct lookup before falling back to fuzzy search.
	if strings.Contains(entityID, ".") && !strings.Contains(entityID, " ") {
		state, err := s.ha.GetState(ctx, entityID)
		if err == nil {
			return mcp.NewToolResultText(formatState(*state)), nil
		}
		if !errors.Is(err, homeassistant.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
		}
	}

	matches, err := s.ha.FindEntities(ctx, entityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No entity found matching '%s'.", entityID)), nil
	}
	if len(matches) == 1 {
		return mcp.NewToolResultText(formatState(matches[0])), nil
	}

	lines := []string{fmt.Sprintf("Found %d entities matching '%s':\n", len(matches), entityID)}
	for i, m := range matches {
		if i == 20 {
			lines = append(lines, fmt.Sprintf("... and %d more", len(matches)-20))
			break
		}
		lines = append(lines, fmt.Sprintf("- **%s** (%s): %s", m.EntityID, friendlyOrID(m), m.State))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleGetEntitiesByDomain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError("domain argument is required"), nil
	}

	states, err := s.ha.StatesByDomain(ctx, domain)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
	}
	if len(states) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No entities found for domain '%s'.", domain)), nil
	}

	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })

	lines := []string{fmt.Sprintf("**%s** — %d entities:\n", domain, len(states))}
	for _, st := range states {
		lines = append(lines, fmt.Sprintf("- `%s`: **%s** (%s)", st.EntityID, st.State, friendlyOrID(st)))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleGetAreaState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	area, err := request.RequireString("area")
	if err != nil {
		return mcp.NewToolResultError("area argument is required"), nil
	}

	areas, err := s.ha.GetAreas(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
	}

	match := matchArea(areas, area)
	if match == nil {
		names := make([]string, 0, len(areas))
		for _, a := range areas {
			names = append(names, a.Name)
		}
		sort.Strings(names)
		return mcp.NewToolResultText(fmt.Sprintf("Unknown area '%s'.\n\nKnown areas: %s",
			area, strings.Join(names, ", "))), nil
	}

	registry, err := s.ha.GetEntityRegistry(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
	}
	inArea := make(map[string]bool)
	for _, e := range registry {
		if e.AreaID == match.AreaID && !e.IsDisabled() {
			inArea[e.EntityID] = true
		}
	}

	states, err := s.ha.GetStates(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
	}

	var matches []homeassistant.State
	for _, st := range states {
		if inArea[st.EntityID] {
			matches = append(matches, st)
		}
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No entities found for area '%s'.", match.Name)), nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].EntityID < matches[j].EntityID })

	lines := []string{fmt.Sprintf("**%s** — %d entities:\n", match.Name, len(matches))}
	for _, st := range matches {
		lines = append(lines, fmt.Sprintf("- `%s`: **%s**%s (%s)",
			st.EntityID, st.State, stateDetail(st), friendlyOrID(st)))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

// matchArea resolves a spoken area name ("living room") against the HA
// area registry by normalized name or alias.
func matchArea(areas []homeassistant.Area, name string) *homeassistant.Area {
	key := normalizeAreaKey(name)
	for i, a := range areas {
		if normalizeAreaKey(a.Name) == key || a.AreaID == key {
			return &areas[i]
		}
		for _, alias := range a.Aliases {
			if normalizeAreaKey(alias) == key {
				return &areas[i]
			}
		}
	}
	return nil
}

func normalizeAreaKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "'", "")
}

func (s *Server) handleGetEntityHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := request.RequireString("entity_id")
	if err != nil {
		return mcp.NewToolResultError("entity_id argument is required"), nil
	}
	hours := request.GetInt("hours", 24)

	history, err := s.ha.GetHistory(ctx, entityID, hours)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Home Assistant request failed: %v", err)), nil
	}
	if len(history) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No history found for '%s' in the last %d hours.", entityID, hours)), nil
	}

	lines := []string{fmt.Sprintf("**%s** — %d states over the last %d hours:\n", entityID, len(history), hours)}
	for _, st := range history {
		ts := st.LastChanged.Format("2006-01-02 15:04:05")
		if st.LastChanged.IsZero() {
			ts = "?"
		}
		lines = append(lines, fmt.Sprintf("- %s: **%s**", ts, st.State))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleGetRecentChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.recorder == nil {
		return mcp.NewToolResultText("Live change recording is not enabled (no WebSocket connection)."), nil
	}
	limit := request.GetInt("limit", 20)

	changes := s.recorder.Recent(limit)
	if len(changes) == 0 {
		return mcp.NewToolResultText("No recent changes recorded."), nil
	}

	lines := []string{fmt.Sprintf("Last %d state changes (newest first):\n", len(changes))}
	for _, c := range changes {
		old := c.OldState
		if old == "" {
			old = "(new)"
		}
		lines = append(lines, fmt.Sprintf("- %s `%s`: %s → %s",
			c.When.Format("15:04:05"), c.EntityID, old, c.NewState))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleReadDoc(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError("filename argument is required"), nil
	}

	content, err := s.docs.Read(filename)
	if errors.Is(err, os.ErrNotExist) {
		var b strings.Builder
		fmt.Fprintf(&b, "File '%s' not found in docs/.\n\nAvailable docs:\n", filename)
		for _, d := range s.docs.List() {
			if d.Title != "" {
				fmt.Fprintf(&b, "  - %s (%s)\n", d.Path, d.Title)
			} else {
				fmt.Fprintf(&b, "  - %s\n", d.Path)
			}
		}
		return mcp.NewToolResultText(b.String()), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read doc: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleGetSystemMap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := s.docs.SystemMap()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read system map: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) handleGenerateHealthReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.reporter.Generate(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Health report failed: %v", err)), nil
	}
	return mcp.NewToolResultText(report.Markdown), nil
}

// Attributes that add noise rather than signal in state output.
var skipAttributes = map[string]bool{
	"friendly_name":         true,
	"supported_features":    true,
	"supported_color_modes": true,
	"icon":                  true,
	"entity_picture":        true,
	"attribution":           true,
}

// friendlyOrID returns the friendly name, falling back to the entity ID.
func friendlyOrID(st homeassistant.State) string {
	if fn := st.FriendlyName(); fn != "" {
		return fn
	}
	return st.EntityID
}

// formatState renders a single entity state with its useful attributes.
func formatState(st homeassistant.State) string {
	lines := []string{
		fmt.Sprintf("**%s** (`%s`)", friendlyOrID(st), st.EntityID),
		fmt.Sprintf("State: **%s**", st.State),
	}

	keys := make([]string, 0, len(st.Attributes))
	for k := range st.Attributes {
		if skipAttributes[k] || strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := st.Attributes[k]
		switch {
		case k == "brightness":
			if pct, ok := brightnessPercent(v); ok {
				lines = append(lines, fmt.Sprintf("  brightness: %d%%", pct))
				continue
			}
			lines = append(lines, fmt.Sprintf("  %s: %v", k, v))
		case k == "color_temp_kelvin":
			lines = append(lines, fmt.Sprintf("  color_temp: %vK", v))
		default:
			lines = append(lines, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	if !st.LastChanged.IsZero() {
		lines = append(lines, "  last_changed: "+st.LastChanged.Format("2006-01-02T15:04:05Z07:00"))
	}

	return strings.Join(lines, "\n")
}

// stateDetail renders the inline attribute summary used in area listings.
func stateDetail(st homeassistant.State) string {
	var detail strings.Builder
	if pct, ok := brightnessPercent(st.Attributes["brightness"]); ok {
		fmt.Fprintf(&detail, ", brightness: %d%%", pct)
	}
	if kelvin, ok := st.Attributes["color_temp_kelvin"]; ok {
		fmt.Fprintf(&detail, ", %vK", kelvin)
	}
	if temp, ok := st.Attributes["temperature"]; ok {
		fmt.Fprintf(&detail, ", temp: %v", temp)
	}
	return detail.String()
}

// brightnessPercent converts an HA 0-255 brightness value to a percent.
// JSON numbers decode as float64, but int shows up in tests and older
// payloads.
func brightnessPercent(v any) (int, bool) {
	switch b := v.(type) {
	case float64:
		return int(math.Round(b / 255 * 100)), true
	case int:
		return int(math.Round(float64(b) / 255 * 100)), true
	}
	return 0, false
}
