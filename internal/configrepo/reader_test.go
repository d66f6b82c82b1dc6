package configrepo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fixtureRepo builds a small ha-config checkout in a temp dir.
func fixtureRepo(t *testing.T) *Reader {
	t.Helper()
	dir := t.TempDir()

	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	write("configuration.yaml", `
homeassistant:
  name: Home
  time_zone: America/Chicago
`)
	write("automations.yaml", `
- id: "1700000000001"
  alias: Porch light at sunset
  trigger:
    - platform: sun
      event: sunset
  action:
    - service: light.turn_on
      target:
        entity_id: light.front_porch
`)
	write("scripts.yaml", `
goodnight:
  alias: Goodnight
  sequence:
    - action: light.turn_off
      target:
        entity_id:
          - light.kitchen
          - light.front_porch
    - action: lock.lock
      target:
        entity_id: lock.front_door
`)
	write("packages/house_mode.yaml", `
input_select:
  house_mode:
    options:
      - day
      - evening
      - night
input_boolean:
  guest_mode: {}
  vacation_mode: {}
automation:
  - id: "1700000000002"
    alias: Night mode at 23:00
    trigger:
      - platform: time
        at: "23:00:00"
    action:
      - service: input_select.select_option
script:
  reset_house_mode:
    sequence:
      - action: input_select.select_option
        target:
          entity_id: input_select.house_mode
`)
	write("packages/empty.yaml", "")

	return NewReader(dir, nil)
}

func TestResolve(t *testing.T) {
	r := fixtureRepo(t)

	tests := []struct {
		name  string
		found bool
	}{
		{"configuration.yaml", true},
		{"configuration", true},              // .yaml appended
		{"house_mode.yaml", true},            // found under packages/
		{"house_mode", true},                 // both fallbacks
		{"packages/house_mode.yaml", true},   // explicit path
		{"no_such_file.yaml", false},
		{"packages", false}, // directories don't resolve
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := r.Resolve(tt.name)
			if ok != tt.found {
				t.Errorf("Resolve(%q) found = %v, want %v", tt.name, ok, tt.found)
			}
		})
	}
}

func TestResolve_RejectsParentTraversal(t *testing.T) {
	parent := t.TempDir()
	if err := os.WriteFile(filepath.Join(parent, "secrets.yaml"), []byte("api_key: hunter2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(parent, "repo")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	r := NewReader(root, nil)

	for _, name := range []string{"../secrets.yaml", "packages/../../secrets.yaml", "/etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			if _, ok := r.Resolve(name); ok {
				t.Errorf("Resolve(%q) resolved outside the repo root", name)
			}
			if _, err := r.ReadRaw(name); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("ReadRaw(%q) = %v, want os.ErrNotExist", name, err)
			}
		})
	}
}

func TestReadRaw(t *testing.T) {
	r := fixtureRepo(t)

	content, err := r.ReadRaw("house_mode")
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if content == "" {
		t.Fatal("expected non-empty content")
	}
}

func TestReadRaw_NotFound(t *testing.T) {
	r := fixtureRepo(t)

	_, err := r.ReadRaw("missing.yaml")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestFiles(t *testing.T) {
	r := fixtureRepo(t)

	files := r.Files()
	want := []string{
		"configuration.yaml",
		"scripts.yaml",
		"automations.yaml",
		filepath.Join("packages", "empty.yaml"),
		filepath.Join("packages", "house_mode.yaml"),
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files %v, want %d", len(files), files, len(want))
	}
	for i, w := range want {
		if files[i] != w {
			t.Errorf("files[%d] = %q, want %q", i, files[i], w)
		}
	}
}

func TestSearch(t *testing.T) {
	r := fixtureRepo(t)

	matches, err := r.Search("PORCH")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected case-insensitive matches for PORCH")
	}
	for _, m := range matches {
		if m.Line < 1 {
			t.Errorf("line numbers must be 1-based, got %d", m.Line)
		}
	}
}

func TestSearch_Regex(t *testing.T) {
	r := fixtureRepo(t)

	matches, err := r.Search(`light\.(kitchen|front_porch)`)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) < 2 {
		t.Fatalf("expected at least 2 regex matches, got %d", len(matches))
	}
}

func TestSearch_InvalidPattern(t *testing.T) {
	r := fixtureRepo(t)

	_, err := r.Search("[unclosed")
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestAutomations(t *testing.T) {
	r := fixtureRepo(t)

	autos := r.Automations()
	if len(autos) != 2 {
		t.Fatalf("got %d automations, want 2: %+v", len(autos), autos)
	}

	byAlias := make(map[string]Automation)
	for _, a := range autos {
		byAlias[a.Alias] = a
	}

	sunset, ok := byAlias["Porch light at sunset"]
	if !ok {
		t.Fatal("missing automation from automations.yaml")
	}
	if sunset.File != "automations.yaml" {
		t.Errorf("file = %q", sunset.File)
	}
	if len(sunset.Triggers) != 1 || sunset.Triggers[0] != "sun sunset" {
		t.Errorf("triggers = %v, want [sun sunset]", sunset.Triggers)
	}

	night, ok := byAlias["Night mode at 23:00"]
	if !ok {
		t.Fatal("missing automation from package")
	}
	if len(night.Triggers) != 1 || night.Triggers[0] != "time at 23:00:00" {
		t.Errorf("triggers = %v, want [time at 23:00:00]", night.Triggers)
	}
}

func TestScripts(t *testing.T) {
	r := fixtureRepo(t)

	scripts := r.Scripts()
	if len(scripts) != 2 {
		t.Fatalf("got %d scripts, want 2: %+v", len(scripts), scripts)
	}

	byName := make(map[string]Script)
	for _, s := range scripts {
		byName[s.Name] = s
	}

	goodnight, ok := byName["goodnight"]
	if !ok {
		t.Fatal("missing goodnight script from scripts.yaml")
	}
	if goodnight.Alias != "Goodnight" {
		t.Errorf("alias = %q", goodnight.Alias)
	}
	if len(goodnight.Actions) != 2 {
		t.Fatalf("actions = %v, want 2 entries", goodnight.Actions)
	}
	if goodnight.Actions[0] != "light.turn_off → light.kitchen, light.front_porch" {
		t.Errorf("actions[0] = %q", goodnight.Actions[0])
	}

	if _, ok := byName["reset_house_mode"]; !ok {
		t.Fatal("missing script from package script: section")
	}
}

func TestPackages(t *testing.T) {
	r := fixtureRepo(t)

	pkgs := r.Packages()
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2", len(pkgs))
	}

	// Sorted by filename: empty.yaml first.
	if pkgs[0].Name != "empty.yaml" || !pkgs[0].ParseError {
		t.Errorf("empty.yaml should report parse_error, got %+v", pkgs[0])
	}

	hm := pkgs[1]
	if hm.Name != "house_mode.yaml" {
		t.Fatalf("pkgs[1] = %q", hm.Name)
	}
	if hm.Automations != 1 {
		t.Errorf("automations = %d, want 1", hm.Automations)
	}
	if hm.Scripts != 1 {
		t.Errorf("scripts = %d, want 1", hm.Scripts)
	}

	helpers := make(map[string]int)
	for _, h := range hm.Helpers {
		helpers[h.Kind] = h.Count
	}
	if helpers["input_select"] != 1 {
		t.Errorf("input_select = %d, want 1", helpers["input_select"])
	}
	if helpers["input_boolean"] != 2 {
		t.Errorf("input_boolean = %d, want 2", helpers["input_boolean"])
	}
}

func TestPackages_NoDirectory(t *testing.T) {
	r := NewReader(t.TempDir(), nil)
	if pkgs := r.Packages(); pkgs != nil {
		t.Errorf("expected nil for missing packages dir, got %+v", pkgs)
	}
}
