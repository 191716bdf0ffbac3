package mapping

import "fmt"

// identityMapper passes every table name and field through unchanged and
// has no notion of a primary-key field, since a caller using it already
// has canonical-shaped records (the ledger-stream Dispatcher channel,
// which builds Events directly via event.FromCommittedRevision and never
// calls a Mapper at all, is the usual reason nobody needs this — Identity
// exists for channels that want the Mapper stage present but inert).
type identityMapper struct{}

func (identityMapper) MapTableName(sourceTable string) (string, bool) { return sourceTable, true }

func (identityMapper) MapDataRecord(_ string, data, _ map[string]any) map[string]any { return data }

func (identityMapper) MapPrimaryKey(_ string, _, _ map[string]any) (string, bool) { return "", false }

// New builds a Mapper for kind, replacing the original's reflection-based
// LoadEventMapperFactory.buildFromEnvironment.
func New(kind Kind, mappingFilePath string) (Mapper, error) {
	switch kind {
	case FileDriven:
		return NewFileMapper(mappingFilePath)
	case Identity, "":
		return identityMapper{}, nil
	default:
		return nil, fmt.Errorf("mapping: unknown mapper kind %q", kind)
	}
}
