package ports

import (
	"context"

	"github.com/aretw0/tether/pkg/domain"
)

// Transport is the outbound half of a session's channel to its remote peer.
// Inbound messages are delivered by the adapter through the scheduler.
type Transport interface {
	// Send delivers one batch. Batches must reach the peer in the order sent.
	Send(ctx context.Context, batch domain.Batch) error

	// Close releases the channel. It is called once when the session closes.
	Close() error
}
