// Package configrepo reads and searches YAML configuration files from a
// local Home Assistant config repository checkout.
package configrepo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Top-level config files checked in addition to packages/*.yaml.
var topLevelFiles = []string{
	"configuration.yaml",
	"scripts.yaml",
	"automations.yaml",
	"scenes.yaml",
	"ui-lovelace.yaml",
}

// helperKeys are the Home Assistant helper sections counted per package.
var helperKeys = []string{"input_number", "input_boolean", "input_button", "input_select", "timer"}

// Reader provides read-only access to a Home Assistant config repo.
type Reader struct {
	root   string
	logger *slog.Logger
}

// NewReader creates a reader rooted at the given repo path.
func NewReader(root string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{root: root, logger: logger}
}

// Root returns the repo root path.
func (r *Reader) Root() string {
	return r.root
}

// Resolve maps a config filename to an absolute path. It tries the name
// as given, then under packages/, then repeats with a .yaml extension
// appended. Returns "" and false when nothing matches.
func (r *Reader) Resolve(filename string) (string, bool) {
	// Names like "../secrets.yaml" must not escape the repo root.
	if !filepath.IsLocal(filename) {
		return "", false
	}
	candidates := []string{
		filepath.Join(r.root, filename),
		filepath.Join(r.root, "packages", filename),
	}
	if !strings.HasSuffix(filename, ".yaml") {
		candidates = append(candidates,
			filepath.Join(r.root, filename+".yaml"),
			filepath.Join(r.root, "packages", filename+".yaml"),
		)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

// ReadRaw reads a config file and returns its raw text.
// Returns os.ErrNotExist (wrapped) when the name cannot be resolved.
func (r *Reader) ReadRaw(filename string) (string, error) {
	path, ok := r.Resolve(filename)
	if !ok {
		return "", fmt.Errorf("config file %q: %w", filename, os.ErrNotExist)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// ReadYAML reads and parses a config file into a generic map.
// Returns nil without error for files that parse to something other
// than a mapping (e.g. automations.yaml, which is a list).
func (r *Reader) ReadYAML(filename string) (map[string]any, error) {
	path, ok := r.Resolve(filename)
	if !ok {
		return nil, fmt.Errorf("config file %q: %w", filename, os.ErrNotExist)
	}
	return r.parseFile(path)
}

func (r *Reader) parseFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// Retry as a bare list (automations.yaml format).
		var list []any
		if listErr := yaml.Unmarshal(data, &list); listErr == nil {
			return map[string]any{"automation": list}, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Files lists all config files in the repo: the known top-level files
// that exist, plus packages/*.yaml sorted by name. Paths are relative
// to the repo root.
func (r *Reader) Files() []string {
	var files []string
	for _, name := range topLevelFiles {
		if _, err := os.Stat(filepath.Join(r.root, name)); err == nil {
			files = append(files, name)
		}
	}
	pkgs, err := filepath.Glob(filepath.Join(r.root, "packages", "*.yaml"))
	if err == nil {
		sort.Strings(pkgs)
		for _, p := range pkgs {
			rel, err := filepath.Rel(r.root, p)
			if err != nil {
				continue
			}
			files = append(files, rel)
		}
	}
	return files
}

// Match is a single search hit.
type Match struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Search runs a case-insensitive regex over every line of every config
// file and returns the matches in file order.
func (r *Reader) Search(pattern string) ([]Match, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matches []Match
	for _, rel := range r.Files() {
		data, err := os.ReadFile(filepath.Join(r.root, rel))
		if err != nil {
			r.logger.Warn("skipping unreadable config file", "file", rel, "error", err)
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, Match{
					File: rel,
					Line: i + 1,
					Text: strings.TrimSpace(line),
				})
			}
		}
	}
	return matches, nil
}

// Automation summarizes one automation block.
type Automation struct {
	ID       string   `json:"id"`
	Alias    string   `json:"alias"`
	Triggers []string `json:"triggers"`
	File     string   `json:"file"`
}

// Automations extracts automation summaries from every config file.
// It handles both the packages format (an "automation" list under a
// mapping) and the bare-list automations.yaml format.
func (r *Reader) Automations() []Automation {
	var autos []Automation
	for _, rel := range r.Files() {
		doc, err := r.parseFile(filepath.Join(r.root, rel))
		if err != nil {
			r.logger.Warn("skipping unparseable config file", "file", rel, "error", err)
			continue
		}
		collectAutomations(doc, rel, &autos)
	}
	return autos
}

// collectAutomations recursively finds automation blocks in parsed YAML.
func collectAutomations(node any, rel string, out *[]Automation) {
	switch v := node.(type) {
	case map[string]any:
		if list, ok := v["automation"].([]any); ok {
			for _, item := range list {
				if a, ok := item.(map[string]any); ok {
					*out = append(*out, summarizeAutomation(a, rel))
				}
			}
		}
		for _, child := range v {
			if m, ok := child.(map[string]any); ok {
				collectAutomations(m, rel, out)
			}
		}
	case []any:
		for _, item := range v {
			if a, ok := item.(map[string]any); ok {
				if _, hasAlias := a["alias"]; hasAlias {
					*out = append(*out, summarizeAutomation(a, rel))
				}
			}
		}
	}
}

func summarizeAutomation(a map[string]any, rel string) Automation {
	triggers := a["triggers"]
	if triggers == nil {
		triggers = a["trigger"]
	}
	list, ok := triggers.([]any)
	if !ok && triggers != nil {
		list = []any{triggers}
	}

	var summaries []string
	for _, t := range list {
		trig, ok := t.(map[string]any)
		if !ok {
			continue
		}
		var parts []string
		if p, ok := trig["platform"].(string); ok {
			parts = append(parts, p)
		}
		if p, ok := trig["trigger"].(string); ok {
			parts = append(parts, p)
		}
		if ev, ok := trig["event"]; ok {
			parts = append(parts, fmt.Sprint(ev))
		}
		if at, ok := trig["at"]; ok {
			parts = append(parts, fmt.Sprintf("at %v", at))
		}
		if eid, ok := trig["entity_id"]; ok {
			parts = append(parts, joinEntityIDs(eid))
		}
		summaries = append(summaries, strings.Join(parts, " "))
	}

	return Automation{
		ID:       stringValue(a["id"]),
		Alias:    stringValue(a["alias"]),
		Triggers: summaries,
		File:     rel,
	}
}

// Script summarizes one script definition.
type Script struct {
	Name    string   `json:"name"`
	Alias   string   `json:"alias"`
	Actions []string `json:"actions"`
	File    string   `json:"file"`
}

// Scripts extracts script summaries from scripts.yaml and packages.
// scripts.yaml is a top-level mapping of name to body; packages nest
// the same mapping under a "script" key.
func (r *Reader) Scripts() []Script {
	var scripts []Script
	for _, rel := range r.Files() {
		doc, err := r.parseFile(filepath.Join(r.root, rel))
		if err != nil {
			continue
		}

		section := doc
		if rel != "scripts.yaml" {
			if s, ok := doc["script"].(map[string]any); ok {
				section = s
			}
		}

		for name, raw := range section {
			body, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			seq, ok := body["sequence"].([]any)
			if !ok {
				continue
			}

			var actions []string
			for _, step := range seq {
				s, ok := step.(map[string]any)
				if !ok {
					continue
				}
				action := stringValue(s["action"])
				if action == "" {
					action = stringValue(s["service"])
				}
				if action == "" {
					continue
				}
				if target, ok := s["target"].(map[string]any); ok {
					if eid := joinEntityIDs(target["entity_id"]); eid != "" {
						actions = append(actions, action+" → "+eid)
						continue
					}
				}
				actions = append(actions, action)
			}

			scripts = append(scripts, Script{
				Name:    name,
				Alias:   stringValue(body["alias"]),
				Actions: actions,
				File:    rel,
			})
		}
	}
	return scripts
}

// HelperCount is the number of helpers of one kind in a package.
type HelperCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// Package summarizes one packages/*.yaml file.
type Package struct {
	Name        string        `json:"name"`
	Automations int           `json:"automations"`
	Scripts     int           `json:"scripts"`
	Helpers     []HelperCount `json:"helpers"`
	ParseError  bool          `json:"parse_error,omitempty"`
}

// Packages summarizes every file in the packages/ directory.
// Returns nil when the directory does not exist.
func (r *Reader) Packages() []Package {
	paths, err := filepath.Glob(filepath.Join(r.root, "packages", "*.yaml"))
	if err != nil || len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)

	var pkgs []Package
	for _, path := range paths {
		pkg := Package{Name: filepath.Base(path)}
		doc, err := r.parseFile(path)
		if err != nil || len(doc) == 0 {
			pkg.ParseError = true
			pkgs = append(pkgs, pkg)
			continue
		}

		if autos, ok := doc["automation"].([]any); ok {
			pkg.Automations = len(autos)
		}
		for _, key := range helperKeys {
			if section, ok := doc[key].(map[string]any); ok {
				pkg.Helpers = append(pkg.Helpers, HelperCount{Kind: key, Count: len(section)})
			}
		}
		if scripts, ok := doc["script"].(map[string]any); ok {
			pkg.Scripts = len(scripts)
		}

		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// joinEntityIDs renders an entity_id value that may be a string or a
// list of strings.
func joinEntityIDs(v any) string {
	switch eid := v.(type) {
	case string:
		return eid
	case []any:
		var ids []string
		for _, e := range eid {
			if s, ok := e.(string); ok {
				ids = append(ids, s)
			}
		}
		return strings.Join(ids, ", ")
	}
	return ""
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
