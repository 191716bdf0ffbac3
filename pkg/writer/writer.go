// Package writer owns the validation state machine and transactional apply
// of Events against the ledger. It is the Go port of the Java
// RevisionWriter/BaseRevisionWriter hierarchy, generalized into two
// strategy implementations of a single Writer interface.
package writer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/apperr"
	"github.com/ledgerapply/loadapplier/pkg/event"
	"github.com/ledgerapply/loadapplier/pkg/ledger"
	"github.com/ledgerapply/loadapplier/pkg/metrics"
	"github.com/ledgerapply/loadapplier/pkg/registry"
)

// Decision is the outcome of validating a single Event.
type Decision string

const (
	Applied Decision = "applied"
	Skipped Decision = "skipped"
	Failed  Decision = "failed"
)

// ValidationResult records what the Writer decided to do with an Event and
// why, for logging, the audit sink, and test assertions.
type ValidationResult struct {
	Event    event.Event
	Decision Decision
	Reason   string
}

// Writer applies Events to the ledger, enforcing the validation state
// machine and optimistic-concurrency retry.
type Writer interface {
	WriteEvent(ctx context.Context, ev event.Event) (ValidationResult, error)
	WriteEvents(ctx context.Context, evs []event.Event) ([]ValidationResult, error)
}

// DedupStore is the optional pre-check ahead of the validation table,
// satisfied by pkg/store's backends. A nil DedupStore disables the check.
type DedupStore interface {
	SeenFingerprint(ctx context.Context, fingerprint string) (bool, error)
	RecordFingerprint(ctx context.Context, fingerprint string) error
}

// Strategy selects which current-revision lookup a Writer uses. It
// replaces the original's buildFromEnvironment() reflection with a typed
// enum and constructor switch, following the teacher's
// EndpointManagment.NewEstuary pattern.
type Strategy string

const (
	BackLink    Strategy = "back-link"
	TableMapper Strategy = "table-mapper"
)

// Config holds the Writer's tunables, sourced from the process config
// table in SPEC_FULL.md's External Interfaces section.
type Config struct {
	Strategy          Strategy
	StrictMode        bool
	MaxOCCRetries     int
	BackLinkFieldName string            // used by the BackLink strategy, default "oldDocumentId"
	IdentityFields    map[string]string // used by the TableMapper strategy, "*" is the wildcard fallback
}

// New builds a Writer for cfg.Strategy. Unknown strategies are a Fatal
// startup error, not a silent fallback.
func New(cfg Config, driver ledger.Driver, tables *registry.ActiveTables, dedup DedupStore) (Writer, error) {
	if cfg.MaxOCCRetries <= 0 {
		cfg.MaxOCCRetries = 3
	}

	base := core{
		driver:  driver,
		tables:  tables,
		dedup:   dedup,
		strict:  cfg.StrictMode,
		retries: cfg.MaxOCCRetries,
	}

	switch cfg.Strategy {
	case BackLink, "":
		field := cfg.BackLinkFieldName
		if field == "" {
			field = "oldDocumentId"
		}
		return &backLinkWriter{core: base, field: field}, nil
	case TableMapper:
		return &tableMapperWriter{core: base, identityFields: cfg.IdentityFields}, nil
	default:
		return nil, apperr.NewFatal(fmt.Sprintf("unknown writer strategy %q", cfg.Strategy), nil)
	}
}

// core holds what both strategies share: the ledger connection, the active
// table registry, the optional dedup store, and the retry/strict settings.
// Each strategy embeds it and supplies its own current-revision lookup and
// write statements.
type core struct {
	driver  ledger.Driver
	tables  *registry.ActiveTables
	dedup   DedupStore
	strict  bool
	retries int
}

// runWithRetry executes fn inside the ledger, retrying on OCC conflict up
// to core.retries times. fn must be safe to call more than once.
func (c *core) runWithRetry(ctx context.Context, table, id string, fn ledger.TxnFunc) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		result, err := c.driver.Execute(ctx, fn)
		if err == nil {
			return result, nil
		}
		if !ledger.IsOCCConflict(err) {
			return nil, err
		}
		lastErr = err
		metrics.RecordOCCRetry()
		log.Warn().Str("table", table).Str("id", id).Int("attempt", attempt+1).Msg("occ conflict, retrying")
	}
	metrics.RecordOCCRetriesExhausted()
	return nil, apperr.NewFail(table, id, "occ retries exhausted", lastErr)
}

// checkDuplicate consults the dedup store, if configured. A true return
// means the caller should Skip without touching the ledger at all.
func (c *core) checkDuplicate(ctx context.Context, ev event.Event) (bool, error) {
	if c.dedup == nil {
		return false, nil
	}
	fp, err := ev.DeduplicationFingerprint()
	if err != nil {
		return false, fmt.Errorf("writer: fingerprint: %w", err)
	}
	seen, err := c.dedup.SeenFingerprint(ctx, fp)
	if err != nil {
		return false, fmt.Errorf("writer: dedup lookup: %w", err)
	}
	if seen {
		return true, nil
	}
	return false, c.dedup.RecordFingerprint(ctx, fp)
}

// applyFunc is a strategy's per-event classify-and-write body, run inside
// the single transaction writeBatchSequential opens for a batch (or inside
// the single-event transaction a strategy's own WriteEvent opens).
type applyFunc func(ctx context.Context, txn ledger.Transaction, ev event.Event, active bool) (Decision, string, error)

// writeBatchSequential is the shared batch orchestration both strategies
// use for WriteEvents. It mirrors RevisionWriter.writeEvents: events that
// fail static validation are dropped with a warning before any ledger work
// happens, duplicate-fingerprint events are skipped the same way, and
// everything else is applied inside exactly one ledger transaction. A
// Failed classification anywhere in that transaction aborts it entirely —
// nothing the batch wrote commits — giving the batch its all-or-nothing
// guarantee. A Skipped classification does not abort; the batch continues.
func writeBatchSequential(ctx context.Context, c *core, evs []event.Event, apply applyFunc) ([]ValidationResult, error) {
	results := make([]ValidationResult, len(evs))

	type pending struct {
		idx int
		ev  event.Event
	}
	var batch []pending

	for i, ev := range evs {
		if !ev.IsValid() {
			results[i] = ValidationResult{Event: ev, Decision: Skipped, Reason: "invalid event, dropped before transaction"}
			log.Warn().Str("table", ev.Table).Str("id", ev.ID).Msg("writer: dropped invalid event before opening batch transaction")
			continue
		}

		dup, err := c.checkDuplicate(ctx, ev)
		if err != nil {
			return results, fmt.Errorf("writer: dedup check failed: %w", err)
		}
		if dup {
			results[i] = ValidationResult{Event: ev, Decision: Skipped, Reason: "duplicate fingerprint"}
			log.Info().Str("table", ev.Table).Str("id", ev.ID).Msg("skip: duplicate fingerprint")
			continue
		}

		batch = append(batch, pending{idx: i, ev: ev})
	}

	if len(batch) == 0 {
		return results, nil
	}

	anchor := batch[0].ev
	_, err := c.runWithRetry(ctx, anchor.Table, anchor.ID, func(ctx context.Context, txn ledger.Transaction) (any, error) {
		for _, p := range batch {
			active := c.tables.IsActive(p.ev.Table)
			decision, reason, err := apply(ctx, txn, p.ev, active)
			if err != nil {
				results[p.idx] = ValidationResult{Event: p.ev, Decision: Failed, Reason: err.Error()}
				return nil, err
			}
			results[p.idx] = ValidationResult{Event: p.ev, Decision: decision, Reason: reason}
			if decision == Failed {
				return nil, fmt.Errorf("writer: batch aborted at %s/%s: %s", p.ev.Table, p.ev.ID, reason)
			}
		}
		return nil, nil
	})
	if err != nil {
		for _, p := range batch {
			if results[p.idx].Decision == "" {
				results[p.idx] = ValidationResult{Event: p.ev, Decision: Failed, Reason: "not reached, batch aborted"}
			}
		}
		return results, err
	}

	for _, p := range batch {
		logDecision(results[p.idx])
	}
	return results, nil
}
