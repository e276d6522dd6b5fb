package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitWritesParseableConfig(t *testing.T) {
	dir := t.TempDir()

	cmd := newInitCmd()
	cmd.SetArgs([]string{dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var parsed configTemplate
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("emitted config does not parse: %v", err)
	}
	if parsed.Schedule.ActiveStartHour != 9 || parsed.Schedule.ActiveEndHour != 21 {
		t.Fatalf("schedule defaults = %+v, want 9-21 window", parsed.Schedule)
	}
	if parsed.StateDir == "" {
		t.Fatalf("state_dir not populated")
	}
}

func TestInitRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()

	first := newInitCmd()
	first.SetArgs([]string{dir})
	if err := first.Execute(); err != nil {
		t.Fatalf("first init error = %v", err)
	}

	second := newInitCmd()
	second.SetArgs([]string{dir})
	if err := second.Execute(); err == nil {
		t.Fatalf("second init succeeded, want refusal to overwrite")
	}
}
