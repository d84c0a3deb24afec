package cliconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ratlabs/vecstore/internal/config"
)

// secretKeys are config fields masked by Get unless reveal is set.
var secretKeys = map[string]bool{
	"apiKey":        true,
	"authToken":     true,
	"botToken":      true,
	"signingSecret": true,
	"password":      true,
}

const redacted = "********"

// field is a key of the Config schema, addressed by its JSON names.
type field struct {
	path []string
	typ  reflect.Type
}

func (f field) String() string { return strings.Join(f.path, ".") }

// lookupField resolves a dotted path such as "vectorStore.apiKey" against
// the Config struct. Unknown keys are rejected with the valid alternatives.
func lookupField(path string) (field, error) {
	s := strings.TrimSpace(path)
	if s == "" {
		return field{}, fmt.Errorf("path is empty")
	}
	f := field{typ: reflect.TypeOf(config.Config{})}
	for _, seg := range strings.Split(s, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return field{}, fmt.Errorf("invalid path %q", path)
		}
		if f.typ.Kind() != reflect.Struct {
			return field{}, fmt.Errorf("unknown config key %q: %s is a %s value", s, f, f.typ.Kind())
		}
		names := jsonFields(f.typ)
		sf, ok := names[seg]
		if !ok {
			return field{}, unknownKey(s, f, seg, names)
		}
		f.path = append(f.path, seg)
		f.typ = sf.Type
	}
	return f, nil
}

func unknownKey(path string, parent field, seg string, names map[string]reflect.StructField) error {
	for name := range names {
		if strings.EqualFold(name, seg) {
			return fmt.Errorf("unknown config key %q (did you mean %q?)", path, strings.Join(append(parent.path, name), "."))
		}
	}
	keys := make([]string, 0, len(names))
	for name := range names {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	where := "top level"
	if len(parent.path) > 0 {
		where = parent.String()
	}
	return fmt.Errorf("unknown config key %q; valid keys under %s: %s", path, where, strings.Join(keys, ", "))
}

// jsonFields maps the JSON names of t's exported fields to the fields.
func jsonFields(t reflect.Type) map[string]reflect.StructField {
	out := make(map[string]reflect.StructField, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		out[name] = sf
	}
	return out
}

// Get returns the effective config value at a dotted path.
// Secret fields are masked unless reveal is true.
func Get(path string, reveal bool) (any, error) {
	f, err := lookupField(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	val, ok := getAtPath(m, f.path)
	if !ok {
		// omitempty fields that are unset
		val = reflect.Zero(f.typ).Interface()
	}
	if reveal {
		return val, nil
	}
	if secretKeys[f.path[len(f.path)-1]] {
		if s, _ := val.(string); s != "" {
			return redacted, nil
		}
		return val, nil
	}
	return redact(val), nil
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if s, ok := item.(string); ok && secretKeys[k] && s != "" {
				out[k] = redacted
				continue
			}
			out[k] = redact(item)
		}
		return out
	default:
		return v
	}
}

// Set writes a value at path into the root config file. The value is parsed
// according to the field's type; groups take a JSON object.
func Set(path, rawValue string) error {
	f, err := lookupField(path)
	if err != nil {
		return err
	}
	val, err := coerce(f, rawValue)
	if err != nil {
		return err
	}
	cfgMap, cfgPath, err := loadFileConfigMap()
	if err != nil {
		return err
	}
	setAtPath(cfgMap, f.path, val)
	if err := validateConfigMap(cfgMap); err != nil {
		return fmt.Errorf("set %s: %w", f, err)
	}
	return saveFileConfigMap(cfgPath, cfgMap)
}

// Unset removes a value at path from the root config file. Groups left
// empty are removed too.
func Unset(path string) error {
	f, err := lookupField(path)
	if err != nil {
		return err
	}
	cfgMap, cfgPath, err := loadFileConfigMap()
	if err != nil {
		return err
	}
	if !unsetAtPath(cfgMap, f.path) {
		return fmt.Errorf("%s is not set in %s", f, cfgPath)
	}
	return saveFileConfigMap(cfgPath, cfgMap)
}

// coerce converts a command-line value to the JSON value stored for f.
func coerce(f field, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	switch f.typ.Kind() {
	case reflect.String:
		var s string
		if strings.HasPrefix(trimmed, `"`) && json.Unmarshal([]byte(trimmed), &s) == nil {
			return s, nil
		}
		return raw, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", f, raw)
		}
		return n, nil
	case reflect.Float64:
		x, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number, got %q", f, raw)
		}
		return x, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", f, raw)
		}
		return b, nil
	case reflect.Struct:
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(reflect.New(f.typ).Interface()); err != nil {
			return nil, fmt.Errorf("%s expects a JSON object of its fields: %w", f, err)
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, fmt.Errorf("%s expects a JSON object: %w", f, err)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%s cannot be set from the command line", f)
	}
}

func loadFileConfigMap() (map[string]any, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, cfgPath, nil
		}
		return nil, "", err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, cfgPath, nil
}

// validateConfigMap checks that m decodes into a Config with no unknown keys.
// "$include" is handled by the loader and skipped here.
func validateConfigMap(m map[string]any) error {
	body := make(map[string]any, len(m))
	for k, v := range m {
		if k != "$include" {
			body[k] = v
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func saveFileConfigMap(cfgPath string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0o600)
}

func getAtPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func setAtPath(root map[string]any, path []string, value any) {
	obj := root
	for _, key := range path[:len(path)-1] {
		next, ok := obj[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[key] = next
		}
		obj = next
	}
	obj[path[len(path)-1]] = value
}

// unsetAtPath deletes path from root, pruning groups it leaves empty.
// It reports whether anything was removed.
func unsetAtPath(root map[string]any, path []string) bool {
	key := path[0]
	if len(path) == 1 {
		if _, ok := root[key]; !ok {
			return false
		}
		delete(root, key)
		return true
	}
	child, ok := root[key].(map[string]any)
	if !ok || !unsetAtPath(child, path[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(root, key)
	}
	return true
}
