package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	kazaam "gopkg.in/qntfy/kazaam.v3"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// fileSpec is the on-disk mapping file shape: a flat list of table
// mappings, one of which may use Wildcard as its source-table.
type fileSpec struct {
	Tables []TableMapping `json:"tables"`
}

// fileMapper is the FileDriven Mapper. It builds one kazaam shift
// transform per table (projecting only the mapped fields, renaming them to
// their target names) and watches the mapping file for changes, atomically
// swapping the active mapping set on reload.
type fileMapper struct {
	path string

	mu     sync.RWMutex
	tables map[string]TableMapping
	shifts map[string]*kazaam.Kazaam

	watcher *fsnotify.Watcher
}

// NewFileMapper loads path and starts watching it for changes. Callers
// should call Close when done to stop the watcher goroutine.
func NewFileMapper(path string) (*fileMapper, error) {
	fm := &fileMapper{path: path}
	if err := fm.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("mapping: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("mapping: watch %s: %w", path, err)
	}
	fm.watcher = watcher
	go fm.watch()

	return fm, nil
}

func (fm *fileMapper) watch() {
	for event := range fm.watcher.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		if err := fm.reload(); err != nil {
			log.Error().Err(err).Str("path", fm.path).Msg("mapping file reload failed, keeping previous mapping")
			continue
		}
		log.Info().Str("path", fm.path).Msg("mapping file reloaded")
	}
}

func (fm *fileMapper) Close() error {
	if fm.watcher == nil {
		return nil
	}
	return fm.watcher.Close()
}

func (fm *fileMapper) reload() error {
	raw, err := os.ReadFile(fm.path)
	if err != nil {
		return fmt.Errorf("mapping: read %s: %w", fm.path, err)
	}

	var spec fileSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("mapping: parse %s: %w", fm.path, err)
	}

	tables := make(map[string]TableMapping, len(spec.Tables))
	shifts := make(map[string]*kazaam.Kazaam, len(spec.Tables))
	for _, tm := range spec.Tables {
		tables[tm.SourceTable] = tm
		k, err := shiftFor(tm.Fields)
		if err != nil {
			return fmt.Errorf("mapping: build transform for %s: %w", tm.SourceTable, err)
		}
		shifts[tm.SourceTable] = k
	}

	fm.mu.Lock()
	fm.tables = tables
	fm.shifts = shifts
	fm.mu.Unlock()
	return nil
}

// shiftFor builds a kazaam "shift" transform that projects and renames
// exactly the fields in fields, dropping everything else.
func shiftFor(fields []FieldMapping) (*kazaam.Kazaam, error) {
	shiftSpec := make(map[string]string, len(fields))
	for _, f := range fields {
		shiftSpec[f.TargetField] = f.SourceField
	}
	specJSON, err := json.Marshal([]map[string]any{
		{"operation": "shift", "spec": shiftSpec},
	})
	if err != nil {
		return nil, err
	}
	return kazaam.New(string(specJSON), kazaam.NewDefaultConfig())
}

func (fm *fileMapper) MapTableName(sourceTable string) (string, bool) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	tm, ok := lookupTable(fm.tables, sourceTable)
	if !ok {
		return "", false
	}
	return tm.TargetTable, true
}

func (fm *fileMapper) MapDataRecord(sourceTable string, data, beforeImage map[string]any) map[string]any {
	fm.mu.RLock()
	tm, ok := lookupTable(fm.tables, sourceTable)
	shift := fm.shifts[tm.SourceTable]
	fm.mu.RUnlock()
	if !ok {
		return nil
	}

	// The kazaam transform is the primary projection path, grounded on the
	// teacher's TransformationManager.Transform; fall back to the plain
	// field copy if the document doesn't round-trip through JSON (e.g.
	// contains values kazaam's jsonparser backend can't address).
	if shift != nil {
		if raw, err := json.Marshal(data); err == nil {
			if out, err := shift.Transform(raw); err == nil {
				var projected map[string]any
				if json.Unmarshal(out, &projected) == nil {
					return projected
				}
			}
		}
	}
	return mapField(tm.Fields, data)
}

func (fm *fileMapper) MapPrimaryKey(sourceTable string, data, beforeImage map[string]any) (string, bool) {
	fm.mu.RLock()
	tm, ok := lookupTable(fm.tables, sourceTable)
	fm.mu.RUnlock()
	if !ok || tm.IDField == "" {
		return "", false
	}

	if beforeImage != nil {
		if v, ok := lookupPath(beforeImage, tm.IDField); ok {
			return fmt.Sprint(v), true
		}
	}
	if v, ok := lookupPath(data, tm.IDField); ok {
		return fmt.Sprint(v), true
	}
	return "", false
}
