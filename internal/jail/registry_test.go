package jail

import (
	"errors"
	"testing"
)

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if r.IsRegistered("python") {
		t.Fatal("python should not be registered yet")
	}
	r.Register("python", "/usr/bin/python3", "sandbox", []string{"-E", "-B"}, Profile{CPU: 1})
	if !r.IsRegistered("python") {
		t.Fatal("python should be registered")
	}
	cmd, err := r.Resolve("python")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cmd.BinPath != "/usr/bin/python3" || cmd.User != "sandbox" {
		t.Errorf("unexpected descriptor: %+v", cmd)
	}
}

func TestResolveUnknownCommand(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ruby")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("python", "/usr/bin/python3", "", nil, Profile{CPU: 1})
	r.Register("python", "/usr/bin/python3", "", nil, Profile{CPU: 1})
	if len(r.Names()) != 1 {
		t.Errorf("expected 1 registered command, got %d", len(r.Names()))
	}
}

func TestAutoConfigureIdempotent(t *testing.T) {
	r := NewRegistry()
	r.AutoConfigure()
	first := append([]string(nil), r.Names()...)
	r.AutoConfigure()
	second := r.Names()
	if len(first) != len(second) {
		t.Errorf("AutoConfigure is not idempotent: %v vs %v", first, second)
	}
}

func TestAutoConfigureNeverFails(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(string) (string, error) { return "", errors.New("not found") }

	r := NewRegistry()
	r.AutoConfigure()
	if len(r.Names()) != 0 {
		t.Errorf("expected empty registry when nothing is found, got %v", r.Names())
	}
	if r.IsRegistered("python") {
		t.Error("python should not be registered")
	}
}
