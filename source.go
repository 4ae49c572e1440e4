package queen

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Markers recognized inside a migration SQL file: an optional dependency
// header followed by an "-- up" section and an optional "-- down"
// section. Neither marker is case-sensitive.
const (
	sourceDependsPrefix = "-- depends:"
	sourceUpMarker      = "-- up"
	sourceDownMarker    = "-- down"
)

// ReadMigrations loads every *.sql file under each of paths as a
// Migration. A migration's Identity is its filename stem; within one
// directory files are loaded in lexicographic filename order, though
// resolution order is always decided by the dependency graph, not load
// order.
func ReadMigrations(paths ...string) ([]*Migration, error) {
	var out []*Migration
	for _, dir := range paths {
		matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
		if err != nil {
			return nil, newConfigError("glob migration source "+dir, err)
		}
		sort.Strings(matches)

		for _, file := range matches {
			m, err := parseSQLMigration(file)
			if err != nil {
				return nil, newConfigError("parse migration "+file, err)
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// parseSQLMigration reads one file of the form:
//
//	-- depends: identity_a, identity_b
//	-- up
//	CREATE TABLE ...;
//	-- down
//	DROP TABLE ...;
//
// The down section is optional; a migration without one has no rollback.
func parseSQLMigration(path string) (*Migration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	identity := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	const (
		sectionPreamble = iota
		sectionUp
		sectionDown
	)

	var depends []string
	var up, down strings.Builder
	section := sectionPreamble

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case hasPrefixFold(trimmed, sourceDependsPrefix):
			for _, d := range strings.Split(trimmed[len(sourceDependsPrefix):], ",") {
				if d = strings.TrimSpace(d); d != "" {
					depends = append(depends, d)
				}
			}
		case strings.EqualFold(trimmed, sourceUpMarker):
			section = sectionUp
		case strings.EqualFold(trimmed, sourceDownMarker):
			section = sectionDown
		case section == sectionUp:
			up.WriteString(line)
			up.WriteString("\n")
		case section == sectionDown:
			down.WriteString(line)
			down.WriteString("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(up.String()) == "" {
		return nil, fmt.Errorf("migration %s has no %q section", identity, sourceUpMarker)
	}

	return &Migration{
		Identity: identity,
		Steps: []Step{
			SQLStep(strings.TrimSpace(up.String()), strings.TrimSpace(down.String())),
		},
		Depends: depends,
	}, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
