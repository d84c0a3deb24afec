package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileCandidatesRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "vecstore.env")
	content := `
# comment
export VEC_TEST_FOO=bar
VEC_TEST_QUOTED="hello world"
VEC_TEST_SINGLE='x y'
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("VECSTORE_ENV_FILE", envPath)
	t.Setenv("VEC_TEST_FOO", "existing")
	t.Setenv("VEC_TEST_QUOTED", "")
	t.Setenv("VEC_TEST_SINGLE", "")
	_ = os.Unsetenv("VEC_TEST_QUOTED")
	_ = os.Unsetenv("VEC_TEST_SINGLE")

	LoadEnvFileCandidates()

	if got := os.Getenv("VEC_TEST_FOO"); got != "existing" {
		t.Fatalf("expected existing value preserved, got %q", got)
	}
	if got := os.Getenv("VEC_TEST_QUOTED"); got != "hello world" {
		t.Fatalf("expected quoted value loaded, got %q", got)
	}
	if got := os.Getenv("VEC_TEST_SINGLE"); got != "x y" {
		t.Fatalf("expected single-quoted value loaded, got %q", got)
	}
}

func TestLoadEnvFileCandidatesSkipsMissingFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("VECSTORE_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	LoadEnvFileCandidates()
}
