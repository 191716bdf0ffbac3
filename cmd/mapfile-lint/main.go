// Command mapfile-lint validates a mapping.FileDriven mapping file before it
// is handed to a running load-applier process. It replaces the teacher's
// cmd/name_loader one-off CSV loader with a one-off validation script built
// the same way: flag-parsed CLI args, a zerolog logger writing to stderr,
// plain os.Exit(1) on failure.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ledgerapply/loadapplier/pkg/mapping"
)

// fieldMapping and tableMapping mirror pkg/mapping's on-disk JSON shape.
// They're redeclared here rather than imported because the package keeps
// that shape private to its file-driven implementation.
type fieldMapping struct {
	SourceField string `json:"source-field"`
	TargetField string `json:"target-field"`
}

type tableMapping struct {
	SourceTable string         `json:"source-table"`
	TargetTable string         `json:"target-table"`
	IDField     string         `json:"id-field"`
	Fields      []fieldMapping `json:"fields"`
}

type fileSpec struct {
	Tables []tableMapping `json:"tables"`
}

func main() {
	var path string
	flag.StringVar(&path, "file", "", "path to the mapping file to validate")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if path == "" {
		logger.Error().Msg("missing -file")
		os.Exit(1)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to read mapping file")
		os.Exit(1)
	}

	var spec fileSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("mapping file is not valid JSON")
		os.Exit(1)
	}

	problems := lint(spec)
	for _, p := range problems {
		logger.Warn().Str("path", path).Msg(p)
	}

	// Round-trip through the real Mapper constructor too, catching anything
	// the structural lint above misses (e.g. a kazaam shift spec the
	// transform library itself rejects).
	m, err := mapping.New(mapping.FileDriven, path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("mapping file failed to load")
		os.Exit(1)
	}
	if closer, ok := m.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if len(problems) > 0 {
		logger.Error().Int("count", len(problems)).Msg("mapping file loaded but has lint warnings")
		os.Exit(1)
	}
	logger.Info().Str("path", path).Int("tables", len(spec.Tables)).Msg("mapping file is valid")
}

// lint runs structural checks NewFileMapper doesn't itself enforce: it
// builds a working Mapper out of a spec a deploy would still regret
// shipping (a table silently shadowed by a duplicate entry, a table with no
// way to derive a primary key, a field mapped to nothing).
func lint(spec fileSpec) []string {
	var problems []string

	seen := make(map[string]bool, len(spec.Tables))
	hasWildcard := false

	for _, tm := range spec.Tables {
		if tm.SourceTable == "" {
			problems = append(problems, "table entry has no source-table")
			continue
		}
		if seen[tm.SourceTable] {
			problems = append(problems, fmt.Sprintf("duplicate source-table %q, later entry shadows the earlier one", tm.SourceTable))
		}
		seen[tm.SourceTable] = true
		if tm.SourceTable == mapping.Wildcard {
			hasWildcard = true
		}

		if tm.TargetTable == "" {
			problems = append(problems, fmt.Sprintf("table %q has no target-table", tm.SourceTable))
		}
		if tm.IDField == "" {
			problems = append(problems, fmt.Sprintf("table %q has no id-field, primary keys can't be derived for it", tm.SourceTable))
		}
		if len(tm.Fields) == 0 {
			problems = append(problems, fmt.Sprintf("table %q maps no fields, every record projects to an empty document", tm.SourceTable))
		}

		targets := make(map[string]bool, len(tm.Fields))
		for _, f := range tm.Fields {
			if f.SourceField == "" || f.TargetField == "" {
				problems = append(problems, fmt.Sprintf("table %q has a field mapping with an empty source-field or target-field", tm.SourceTable))
				continue
			}
			if targets[f.TargetField] {
				problems = append(problems, fmt.Sprintf("table %q maps two source fields onto target-field %q", tm.SourceTable, f.TargetField))
			}
			targets[f.TargetField] = true
		}
	}

	if !hasWildcard {
		problems = append(problems, "no wildcard (\"*\") table entry, source tables not listed here will be dropped by the Dispatcher")
	}

	return problems
}
