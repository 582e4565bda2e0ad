package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// --- DefaultConfig ---

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != ".forge" {
		t.Errorf("DataDir = %s, want .forge", cfg.DataDir)
	}
	if cfg.Pipeline.ClassifyTimeout != 5*time.Second {
		t.Errorf("ClassifyTimeout = %s, want 5s", cfg.Pipeline.ClassifyTimeout)
	}
	if cfg.Pipeline.MaxCommitRetries != 3 {
		t.Errorf("MaxCommitRetries = %d, want 3", cfg.Pipeline.MaxCommitRetries)
	}
	if !cfg.Voters.Path || !cfg.Voters.Markers {
		t.Error("built-in voters should be enabled by default")
	}
	if cfg.Voters.MaxLines != 400 {
		t.Errorf("MaxLines = %d, want 400", cfg.Voters.MaxLines)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// --- Load ---

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.toml")
	content := `
data_dir = "/tmp/forge-data"
peer_id = "laptop"

[log]
level = "debug"
format = "json"

[pipeline]
classify_timeout = "250ms"
max_commit_retries = 5

[voters]
max_lines = 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/tmp/forge-data" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.PeerID != "laptop" {
		t.Errorf("PeerID = %s, want laptop", cfg.PeerID)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Pipeline.ClassifyTimeout != 250*time.Millisecond {
		t.Errorf("ClassifyTimeout = %s, want 250ms", cfg.Pipeline.ClassifyTimeout)
	}
	if cfg.Pipeline.MaxCommitRetries != 5 {
		t.Errorf("MaxCommitRetries = %d, want 5", cfg.Pipeline.MaxCommitRetries)
	}
	if cfg.Voters.MaxLines != 0 {
		t.Errorf("MaxLines = %d, want 0", cfg.Voters.MaxLines)
	}
	if !cfg.Voters.Path {
		t.Error("unset keys keep their defaults")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("FORGE_LOG__LEVEL", "error")
	t.Setenv("FORGE_PEER_ID", "ci-runner")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %s, want error", cfg.Log.Level)
	}
	if cfg.PeerID != "ci-runner" {
		t.Errorf("PeerID = %s, want ci-runner", cfg.PeerID)
	}
}

func TestLoad_FindsFileInDataDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultFile), []byte("peer_id = \"found\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("FORGE_DATA_DIR", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PeerID != "found" {
		t.Errorf("PeerID = %s, want found", cfg.PeerID)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %s, want %s", cfg.DataDir, dir)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("Load should fail for a missing explicit file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero retries", "[pipeline]\nmax_commit_retries = 0\n", "max_commit_retries"},
		{"negative timeout", "[pipeline]\nclassify_timeout = \"-1s\"\n", "classify_timeout"},
		{"bad format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"negative size", "[voters]\nmax_lines = -3\n", "max_lines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "forge.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %s", err, tt.want)
			}
		})
	}
}

// --- helpers ---

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"FORGE_DATA_DIR":                     "data_dir",
		"FORGE_LOG__FORMAT":                  "log.format",
		"FORGE_PIPELINE__MAX_COMMIT_RETRIES": "pipeline.max_commit_retries",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestJournalPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	if got := cfg.JournalPath(); got != filepath.Join("/data", "journal") {
		t.Errorf("JournalPath = %s", got)
	}
}
