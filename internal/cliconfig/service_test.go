package cliconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func useHome(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("HOME", dir)
	t.Setenv("VECSTORE_HOME", "")
	t.Setenv("VECSTORE_CONFIG", "")
}

func writeConfig(t *testing.T, home, content string) string {
	t.Helper()
	dir := filepath.Join(home, ".vecstore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func readConfig(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	return m
}

func TestLookupField(t *testing.T) {
	f, err := lookupField(" vectorStore.apiKey ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if f.String() != "vectorStore.apiKey" || f.typ.Kind().String() != "string" {
		t.Fatalf("unexpected field %s (%s)", f, f.typ)
	}
	if f, err := lookupField("gateway"); err != nil || f.typ.Kind().String() != "struct" {
		t.Fatalf("expected group field, got %v %v", f, err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"", "path is empty"},
		{"gateway..port", "invalid path"},
		{"vectorStore.APIKEY", `did you mean "vectorStore.apiKey"`},
		{"vectorStore.apiKye", "valid keys under vectorStore: apiKey, batchSize"},
		{"gatway.port", "valid keys under top level"},
		{"gateway.port.extra", "is a int value"},
	}
	for _, tc := range tests {
		_, err := lookupField(tc.path)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("lookup %q: expected error containing %q, got %v", tc.path, tc.want, err)
		}
	}
}

func TestCoerce(t *testing.T) {
	mustField := func(p string) field {
		f, err := lookupField(p)
		if err != nil {
			t.Fatalf("lookup %s: %v", p, err)
		}
		return f
	}

	if v, err := coerce(mustField("search.index"), `"docs"`); err != nil || v != "docs" {
		t.Fatalf("quoted string: %#v %v", v, err)
	}
	if v, err := coerce(mustField("search.index"), "plain"); err != nil || v != "plain" {
		t.Fatalf("plain string: %#v %v", v, err)
	}
	if v, err := coerce(mustField("gateway.port"), " 9090 "); err != nil || v != 9090 {
		t.Fatalf("int: %#v %v", v, err)
	}
	if v, err := coerce(mustField("retry.multiplier"), "1.5"); err != nil || v != 1.5 {
		t.Fatalf("float: %#v %v", v, err)
	}
	if v, err := coerce(mustField("slack.enabled"), "true"); err != nil || v != true {
		t.Fatalf("bool: %#v %v", v, err)
	}
	if _, err := coerce(mustField("slack.enabled"), "yes please"); err == nil {
		t.Fatal("expected bool parse error")
	}
	if _, err := coerce(mustField("gateway"), `{"port":9000,"hots":"x"}`); err == nil {
		t.Fatal("expected unknown field error in group object")
	}
	v, err := coerce(mustField("gateway"), `{"port":9000}`)
	if err != nil {
		t.Fatalf("group object: %v", err)
	}
	if m := v.(map[string]any); m["port"] != float64(9000) {
		t.Fatalf("unexpected group value %#v", m)
	}
}

func TestSetGetUnsetRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeConfig(t, tmpDir, `{"gateway":{"port":18790},"search":{"index":"base"}}`)
	useHome(t, tmpDir)

	if err := Set("gateway.port", "9999"); err != nil {
		t.Fatalf("set gateway.port: %v", err)
	}
	v, err := Get("gateway.port", false)
	if err != nil {
		t.Fatalf("get gateway.port: %v", err)
	}
	if n, ok := v.(float64); !ok || n != 9999 {
		t.Fatalf("expected 9999, got %#v", v)
	}

	if err := Unset("gateway.port"); err != nil {
		t.Fatalf("unset gateway.port: %v", err)
	}
	m := readConfig(t, cfgPath)
	if _, ok := m["gateway"]; ok {
		t.Fatalf("expected empty gateway group pruned, got %#v", m)
	}
	if m["search"].(map[string]any)["index"] != "base" {
		t.Fatalf("unrelated key lost: %#v", m)
	}
	if v, _ := Get("gateway.port", false); v != float64(8080) {
		t.Fatalf("expected default port after unset, got %#v", v)
	}

	if err := Unset("gateway.port"); err == nil || !strings.Contains(err.Error(), "is not set") {
		t.Fatalf("expected not-set error, got %v", err)
	}
}

func TestSetRejectsUnknownKey(t *testing.T) {
	tmpDir := t.TempDir()
	useHome(t, tmpDir)

	err := Set("vectorStore.apiKye", "secret")
	if err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".vecstore", "config.json")); !os.IsNotExist(err) {
		t.Fatalf("rejected set must not write the config file: %v", err)
	}
	if err := Unset("vectorStore.apiKye"); err == nil {
		t.Fatal("expected unknown key error from unset")
	}
	if _, err := Get("vectorStore.apiKye", false); err == nil {
		t.Fatal("expected unknown key error from get")
	}
}

func TestSetRejectsUnknownKeyAlreadyInFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeConfig(t, tmpDir, `{"vectorStor":{"apiKey":"x"}}`)
	useHome(t, tmpDir)

	err := Set("gateway.port", "9000")
	if err == nil || !strings.Contains(err.Error(), "vectorStor") {
		t.Fatalf("expected error naming the stray key, got %v", err)
	}
	if _, ok := readConfig(t, cfgPath)["gateway"]; ok {
		t.Fatal("config file changed despite the error")
	}
}

func TestSetKeepsInclude(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := writeConfig(t, tmpDir, `{"$include":"base.json"}`)
	if err := os.WriteFile(filepath.Join(tmpDir, ".vecstore", "base.json"), []byte(`{"search":{"index":"shared"}}`), 0o600); err != nil {
		t.Fatalf("write include: %v", err)
	}
	useHome(t, tmpDir)

	if err := Set("gateway.port", "9000"); err != nil {
		t.Fatalf("set with include: %v", err)
	}
	if m := readConfig(t, cfgPath); m["$include"] != "base.json" {
		t.Fatalf("include lost: %#v", m)
	}
	if v, err := Get("search.index", false); err != nil || v != "shared" {
		t.Fatalf("included value: %#v %v", v, err)
	}
}

func TestSetCreatesConfigFileWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()
	useHome(t, tmpDir)

	if err := Set("slack.enabled", "true"); err != nil {
		t.Fatalf("set when missing config: %v", err)
	}
	m := readConfig(t, filepath.Join(tmpDir, ".vecstore", "config.json"))
	slack, ok := m["slack"].(map[string]any)
	if !ok {
		t.Fatalf("expected slack map in created config: %#v", m)
	}
	if slack["enabled"] != true {
		t.Fatalf("expected slack.enabled=true, got %#v", slack["enabled"])
	}
}

func TestLoadFileConfigMapInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"bad":`)
	useHome(t, tmpDir)

	if _, _, err := loadFileConfigMap(); err == nil {
		t.Fatal("expected loadFileConfigMap error for invalid JSON")
	}
}

func TestSaveFileConfigMapMarshalError(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), ".vecstore", "config.json")
	if err := saveFileConfigMap(cfgPath, map[string]any{"bad": func() {}}); err == nil {
		t.Fatal("expected saveFileConfigMap to fail on non-JSON-serializable values")
	}
}

func TestSetRejectsValueOfWrongType(t *testing.T) {
	useHome(t, t.TempDir())

	if err := Set("gateway.port", "not-a-port"); err == nil {
		t.Fatal("expected type error for string gateway.port")
	}
	if _, _, err := loadFileConfigMap(); err != nil {
		t.Fatalf("config must stay readable: %v", err)
	}
	if err := Set("gateway.port", "8181"); err != nil {
		t.Fatalf("set valid port: %v", err)
	}
}

func TestGetRedactsSecrets(t *testing.T) {
	tmpDir := t.TempDir()
	useHome(t, tmpDir)
	t.Setenv("VECSTORE_VECTORSTORE_API_KEY", "pc-secret")

	v, err := Get("vectorStore.apiKey", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != redacted {
		t.Fatalf("expected redacted key, got %#v", v)
	}
	v, err = Get("vectorStore", false)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if m := v.(map[string]any); m["apiKey"] != redacted || m["environment"] != "us-west1-gcp" {
		t.Fatalf("unexpected redacted group: %#v", m)
	}
	v, err = Get("vectorStore.apiKey", true)
	if err != nil {
		t.Fatalf("get reveal: %v", err)
	}
	if v != "pc-secret" {
		t.Fatalf("expected revealed key, got %#v", v)
	}
}

func TestGetUnsetOptionalField(t *testing.T) {
	useHome(t, t.TempDir())
	v, err := Get("gateway.authToken", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "" {
		t.Fatalf("expected empty token, got %#v", v)
	}
}
