package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/jail/internal/jail"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndApplyRegistersCommands(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "registry.yaml", `
defaults:
  cpu: 1
  memory: 30000000
commands:
  - name: python
    bin_path: /usr/bin/python3
    user: sandbox
    argv_prefix: ["-E", "-B"]
  - name: node
    bin_path: /usr/bin/node
    limits:
      cpu: 3
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	reg := jail.NewRegistry()
	if errs := Apply(reg, f); len(errs) != 0 {
		t.Fatalf("Apply errors: %v", errs)
	}

	py, err := reg.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve python: %v", err)
	}
	if py.User != "sandbox" || py.BinPath != "/usr/bin/python3" {
		t.Errorf("unexpected python command: %+v", py)
	}
	if py.Defaults.CPU != 1 || py.Defaults.Memory != 30_000_000 {
		t.Errorf("python did not inherit defaults: %+v", py.Defaults)
	}

	node, err := reg.Resolve("node")
	if err != nil {
		t.Fatalf("Resolve node: %v", err)
	}
	if node.Defaults.CPU != 3 {
		t.Errorf("node CPU override not applied: %+v", node.Defaults)
	}
	if node.Defaults.Memory != 30_000_000 {
		t.Errorf("node should still inherit the unrelated default: %+v", node.Defaults)
	}
}

func TestApplyCleanFileRegistersEveryCommandWithoutErrors(t *testing.T) {
	f := &File{
		Commands: []CommandConfig{
			{Name: "ok", BinPath: "/bin/true"},
			{Name: "bad", BinPath: "/bin/false", Limits: LimitsConfig{}},
		},
	}
	// An override map with an unknown key, the one error Merge reports, is
	// not expressible through LimitsConfig, so this test checks that a clean
	// file produces zero errors and both commands land.
	reg := jail.NewRegistry()
	if errs := Apply(reg, f); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !reg.IsRegistered("ok") || !reg.IsRegistered("bad") {
		t.Errorf("expected both commands registered, got %v", reg.Names())
	}
}

func TestLoadOneRegistersSingleCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ruby.yaml", `
name: ruby
bin_path: /usr/bin/ruby
limits:
  cpu: 2
`)
	reg := jail.NewRegistry()
	name, err := LoadOne(reg, jail.Profile{Memory: 10_000_000}, path)
	if err != nil {
		t.Fatalf("LoadOne: %v", err)
	}
	if name != "ruby" {
		t.Errorf("name = %q, want ruby", name)
	}
	cmd, err := reg.Resolve("ruby")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd.Defaults.CPU != 2 || cmd.Defaults.Memory != 10_000_000 {
		t.Errorf("unexpected merged profile: %+v", cmd.Defaults)
	}
}

func TestLoadOneRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "anon.yaml", "bin_path: /usr/bin/ruby\n")
	reg := jail.NewRegistry()
	if _, err := LoadOne(reg, jail.Profile{}, path); err == nil {
		t.Fatal("expected an error for a descriptor with no name")
	}
}

func TestDirCreatesCommandsSubdirectory(t *testing.T) {
	base := t.TempDir()
	dir, err := Dir(base)
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if filepath.Base(dir) != "commands.d" {
		t.Errorf("Dir = %q, want a commands.d subdirectory", dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("commands.d was not created: %v", err)
	}
}
