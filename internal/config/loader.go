package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKeys name the directive listing files merged beneath this one.
var includeKeys = []string{"$include", "include"}

// LoadRaw reads a configuration file into a raw map. Included files are
// merged first, in order, so the including file overrides them. Environment
// references are expanded before parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &loader{getenv: os.LookupEnv}
	return l.load(path)
}

type loader struct {
	getenv func(string) (string, bool)
	stack  []string
}

func (l *loader) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(l.stack, absPath) {
		chain := append(slices.Clone(l.stack), absPath)
		return nil, fmt.Errorf("config include cycle: %s", strings.Join(chain, " -> "))
	}
	l.stack = append(l.stack, absPath)
	defer func() { l.stack = l.stack[:len(l.stack)-1] }()

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseRaw([]byte(l.expand(string(data))), absPath)
	if err != nil {
		return nil, err
	}
	includes, err := takeIncludes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	merged := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(absPath), inc)
		}
		incRaw, err := l.load(inc)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}
	return mergeMaps(merged, raw), nil
}

// expand replaces $VAR and ${VAR} with the environment value, and
// ${VAR:-fallback} with fallback when VAR is unset or empty. The $include
// key is left alone.
func (l *loader) expand(s string) string {
	return os.Expand(s, func(ref string) string {
		if "$"+ref == includeKeys[0] {
			return includeKeys[0]
		}
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		value, ok := l.getenv(name)
		if hasFallback && (!ok || value == "") {
			return fallback
		}
		return value
	})
}

func parseRaw(data []byte, path string) (map[string]any, error) {
	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: expected single document", path)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// takeIncludes removes the include directive from raw and returns its paths.
func takeIncludes(raw map[string]any) ([]string, error) {
	var value any
	for _, key := range includeKeys {
		if v, ok := raw[key]; ok {
			value = v
			delete(raw, key)
			break
		}
	}

	var paths []string
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case string:
		paths = []string{typed}
	case []any:
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, errors.New("include entries must be strings")
			}
			paths = append(paths, s)
		}
	default:
		return nil, errors.New("include must be a string or list of strings")
	}
	return slices.DeleteFunc(paths, func(p string) bool { return strings.TrimSpace(p) == "" }), nil
}

// mergeMaps deep-merges src into dst. Nested maps merge key by key; any
// other value in src replaces dst's.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig decodes the merged map strictly: unknown keys are errors.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
