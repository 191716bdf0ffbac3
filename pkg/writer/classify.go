package writer

import "github.com/ledgerapply/loadapplier/pkg/event"

// classify implements the validation table from SPEC_FULL.md's Writer
// module, shared by both strategies. current is the Event reconstructed
// from the ledger's existing document for ev's id, or nil if none exists.
// active reports whether ev.Table is in the ActiveTablesRegistry snapshot.
func classify(ev event.Event, current *event.Event, active bool, strict bool) (Decision, string) {
	if !active {
		return Skipped, "table not active"
	}

	op := ev.Operation
	if op == event.Any {
		// Design Notes #1: ANY defers to whichever rule the current-revision
		// lookup implies.
		if current == nil {
			op = event.Insert
		} else {
			op = event.Update
		}
	}

	if op == event.Insert {
		if current != nil {
			return Skipped, "insert with existing current revision, document already exists"
		}
		return Applied, ""
	}

	// UPDATE or DELETE from here.
	if current == nil {
		if strict {
			return Failed, "missing current revision"
		}
		return Skipped, "missing current revision"
	}

	if ev.Version <= current.Version {
		return Skipped, "stale or duplicate revision"
	}
	if ev.Version > current.Version+1 {
		return Failed, "version gap"
	}
	return Applied, ""
}
