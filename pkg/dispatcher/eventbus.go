package dispatcher

import (
	"context"
	"fmt"

	"github.com/ledgerapply/loadapplier/pkg/mapping"
)

// EventBusChannel is the event bus contract: one record at a time, and any
// failure throws immediately rather than accumulating.
type EventBusChannel struct {
	Source RecordSource
	Mapper mapping.Mapper
	Writer EventWriter
}

func (c *EventBusChannel) ProcessOnce(ctx context.Context) error {
	raw, err := c.Source.Receive(ctx)
	if err != nil {
		return err
	}

	ev, ok := decodeAndTranslate(raw, c.Mapper)
	if !ok {
		return fmt.Errorf("eventbus: undecodable or unmapped record")
	}

	_, err = c.Writer.WriteEvent(ctx, ev)
	return err
}

// Run satisfies the Channel interface.
func (c *EventBusChannel) Run(ctx context.Context) error { return c.ProcessOnce(ctx) }
