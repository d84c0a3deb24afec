package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndEnsureDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("VECSTORE_HOME", "")
	t.Setenv("VECSTORE_CONFIG", "")

	cfg := DefaultConfig()
	cfg.Search.Index = "saved-index"
	if err := Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved config file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 config file, got %v", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Search.Index != "saved-index" {
		t.Fatalf("expected saved index, got %q", loaded.Search.Index)
	}

	newDir := filepath.Join(tmpDir, "nested", "dir")
	if err := EnsureDir(newDir); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if info, err := os.Stat(newDir); err != nil || !info.IsDir() {
		t.Fatalf("expected created directory, err=%v", err)
	}
}

func TestLoadInvalidJSONReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, ".vecstore")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(`{"search":`), 0o600); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	t.Setenv("HOME", tmpDir)
	t.Setenv("VECSTORE_HOME", "")
	t.Setenv("VECSTORE_CONFIG", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected JSON error, got nil")
	}
}

func TestLoadResolvesIncludesAndEnvTokens(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "base.json")
	main := filepath.Join(tmpDir, "main.json")
	if err := os.WriteFile(base, []byte(`{"search":{"index":"from-base","topK":9},"gateway":{"port":7000}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(main, []byte(`{"$include":"base.json","search":{"index":"${TEST_VEC_INDEX}"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", tmpDir)
	t.Setenv("VECSTORE_CONFIG", main)
	t.Setenv("TEST_VEC_INDEX", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Search.Index != "from-env" || cfg.Search.TopK != 9 || cfg.Gateway.Port != 7000 {
		t.Fatalf("unexpected merged config: search=%+v gateway=%+v", cfg.Search, cfg.Gateway)
	}
	if cfg.Search.Metric != "dotproduct" {
		t.Fatalf("expected default metric retained, got %q", cfg.Search.Metric)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	tmpDir := t.TempDir()
	a := filepath.Join(tmpDir, "a.json")
	b := filepath.Join(tmpDir, "b.json")
	_ = os.WriteFile(a, []byte(`{"$include":"b.json"}`), 0o600)
	_ = os.WriteFile(b, []byte(`{"$include":["a.json"]}`), 0o600)
	if _, err := loadResolvedConfig(a); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestSubstituteEnvValuesLeavesUnknownToken(t *testing.T) {
	input := map[string]any{
		"value": "${NOT_SET_VAR}",
	}
	out := substituteEnvValues(input).(map[string]any)
	if out["value"] != "${NOT_SET_VAR}" {
		t.Fatalf("expected unknown env token unchanged, got %v", out["value"])
	}
}
