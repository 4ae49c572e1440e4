// Package iniconfig loads Queen's INI-style configuration file: a DEFAULT
// section of recognized keys, composition via "%inherit path", and
// "%(here)s" interpolation expanding to the directory containing the file
// the token appears in.
//
// No pack example parses this dialect (it is closer to Python's
// configparser than any Go INI library's format, chiefly because of
// %inherit and %(here)s), so this is a deliberate, justified stdlib
// implementation (see DESIGN.md).
package iniconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the recognized key set.
type Config struct {
	Sources           []string
	Database          string
	Verbosity         int
	BatchMode         bool
	Editor            string
	PostCreateCommand string
	MigrationTable    string
}

// Load reads path, following any "%inherit" directives, and returns the
// merged configuration. Keys set by a file override the same keys
// inherited from a parent; "%inherit" must appear before the keys it is
// meant to be overridden by.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path, make(map[string]bool))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if v, ok := raw["sources"]; ok {
		cfg.Sources = strings.Fields(v)
	}
	cfg.Database = raw["database"]
	cfg.Editor = raw["editor"]
	cfg.PostCreateCommand = raw["post_create_command"]
	cfg.MigrationTable = raw["migration_table"]

	if v, ok := raw["verbosity"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("iniconfig: invalid verbosity %q: %w", v, err)
		}
		cfg.Verbosity = n
	}
	if v, ok := raw["batch_mode"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("iniconfig: invalid batch_mode %q: %w", v, err)
		}
		cfg.BatchMode = b
	}

	return cfg, nil
}

// loadRaw parses path and any files it %inherits, returning the flattened
// key/value map with this file's own values taking precedence. visited
// guards against an %inherit cycle.
func loadRaw(path string, visited map[string]bool) (map[string]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("iniconfig: resolve path %q: %w", path, err)
	}
	if visited[abs] {
		return nil, fmt.Errorf("iniconfig: %%inherit cycle at %q", abs)
	}
	visited[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("iniconfig: open %q: %w", abs, err)
	}
	defer f.Close()

	here := filepath.Dir(abs)
	values := make(map[string]string)
	section := ""

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "%inherit ") {
			parent := strings.TrimSpace(strings.TrimPrefix(line, "%inherit "))
			parent = interpolate(parent, here)
			if !filepath.IsAbs(parent) {
				parent = filepath.Join(here, parent)
			}
			parentValues, err := loadRaw(parent, visited)
			if err != nil {
				return nil, err
			}
			for k, v := range parentValues {
				values[k] = v
			}
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			key, val, ok = strings.Cut(line, ":")
		}
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = interpolate(strings.TrimSpace(val), here)

		// Only DEFAULT (or unsectioned) keys are recognized; other
		// sections are reserved for future per-backend overrides.
		if section == "" || strings.EqualFold(section, "DEFAULT") {
			values[key] = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("iniconfig: read %q: %w", abs, err)
	}

	return values, nil
}

// interpolate expands "%(here)s" to the directory containing the file the
// token was read from.
func interpolate(value, here string) string {
	return strings.ReplaceAll(value, "%(here)s", here)
}
