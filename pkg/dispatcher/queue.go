package dispatcher

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/mapping"
)

// QueueChannel is the point-to-point queue contract: each item is applied
// independently and a failure is reported per-item, never aborting the
// rest of the batch (matches an SQS-shaped batch item failure response).
type QueueChannel struct {
	Source QueueSource
	Mapper mapping.Mapper
	Writer EventWriter
}

// ProcessOnce drains one batch from Source and returns the IDs of items
// that failed to apply, for the caller to report back to the queue (so
// only those get redelivered).
func (c *QueueChannel) ProcessOnce(ctx context.Context) ([]string, error) {
	items, err := c.Source.ReceiveBatch(ctx)
	if err != nil {
		return nil, err
	}

	var failed []string
	for _, item := range items {
		ev, ok := decodeAndTranslate(item.Raw, c.Mapper)
		if !ok {
			log.Warn().Str("item", item.ID).Msg("queue: undecodable or unmapped record")
			failed = append(failed, item.ID)
			continue
		}
		if _, err := c.Writer.WriteEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("item", item.ID).Msg("queue: write failed")
			failed = append(failed, item.ID)
		}
	}
	return failed, nil
}

// Run adapts ProcessOnce to the Channel interface the service package
// drives all six channel contracts through uniformly. Per-item failures
// are logged by ProcessOnce itself; Run only surfaces a hard error (e.g.
// the source being unreachable).
func (c *QueueChannel) Run(ctx context.Context) error {
	_, err := c.ProcessOnce(ctx)
	return err
}
