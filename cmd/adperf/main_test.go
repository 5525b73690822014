package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFilter(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "f.yaml")
	if err := os.WriteFile(yamlPath, []byte("clients: [Acme]\ndelivery_months: [\"2024/3\"]\nkeyword: 春\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	spec, err := readFilter(yamlPath)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(spec.Clients) != 1 || spec.Keyword != "春" {
		t.Fatalf("unexpected spec %+v", spec)
	}

	jsonPath := filepath.Join(dir, "f.json")
	if err := os.WriteFile(jsonPath, []byte(`{"prefectures":["東京都","大阪府"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	spec, err = readFilter(jsonPath)
	if err != nil || len(spec.Prefectures) != 2 {
		t.Fatalf("json: %+v %v", spec, err)
	}

	if spec, err := readFilter(""); err != nil || !spec.IsEmpty() {
		t.Fatalf("no file should mean no filter")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "dev" {
		t.Fatalf("version = %q", out.String())
	}
}

func TestViewRejectsUnknownID(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"view", "nope"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "unknown view") {
		t.Fatalf("expected unknown view error, got %v", err)
	}
}
