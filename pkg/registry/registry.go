// Package registry caches the set of tables the ledger currently considers
// ACTIVE, fetched once at Writer construction time. The query it's built on
// is LoaderUtils.fetchActiveLedgerTables's
// "select name from information_schema.user_tables where status = 'ACTIVE'".
package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Querier is the narrow slice of the ledger driver the registry needs: the
// ability to run a single read-only statement and get back table names. A
// concrete ledger.Driver implementation satisfies this directly.
type Querier interface {
	ActiveTableNames(ctx context.Context) ([]string, error)
}

// ActiveTables is a read-only, immutable snapshot of the ledger's active
// tables. It is safe for concurrent use — nothing mutates it after New.
type ActiveTables struct {
	names map[string]struct{}
}

// New fetches the active-table snapshot once and returns an immutable
// registry. Fetch failure is fatal to startup: a Writer cannot validate
// anything without knowing which tables exist.
func New(ctx context.Context, q Querier) (*ActiveTables, error) {
	names, err := q.ActiveTableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: fetch active tables: %w", err)
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	log.Info().Int("count", len(set)).Msg("active-tables registry loaded")
	return &ActiveTables{names: set}, nil
}

// IsActive reports whether table is in the ledger's ACTIVE set as of the
// snapshot fetch.
func (a *ActiveTables) IsActive(table string) bool {
	if a == nil {
		return false
	}
	_, ok := a.names[table]
	return ok
}

// Names returns a copy of the active table names, for diagnostics/health
// endpoints.
func (a *ActiveTables) Names() []string {
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	return out
}
