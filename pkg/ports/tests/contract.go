package tests

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Receiver returns the next batch the peer got from a transport.
type Receiver func(ctx context.Context) (domain.Batch, error)

// TransportContractTest is a reusable test suite that verifies if an adapter complies with ports.Transport.
// setup must return a fresh transport and a way to read what its peer receives.
func TransportContractTest(t *testing.T, setup func(t *testing.T) (ports.Transport, Receiver)) {
	t.Helper()

	batch := func(seq uint64, value any) domain.Batch {
		return domain.Batch{SessionID: "contract", Seq: seq, Messages: []domain.Message{
			{Type: domain.MessagePatch, ModelID: "m1", Property: "speed", Value: value},
		}}
	}

	t.Run("Send_PreservesOrder", func(t *testing.T) {
		tr, recv := setup(t)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		for i := uint64(1); i <= 3; i++ {
			require.NoError(t, tr.Send(ctx, batch(i, float64(i))))
		}
		for i := uint64(1); i <= 3; i++ {
			got, err := recv(ctx)
			require.NoError(t, err)
			assert.Equal(t, i, got.Seq)
			require.Len(t, got.Messages, 1)
			assert.EqualValues(t, i, got.Messages[0].Value)
		}
	})

	t.Run("Send_AfterClose", func(t *testing.T) {
		tr, _ := setup(t)
		require.NoError(t, tr.Close())
		assert.Error(t, tr.Send(context.Background(), batch(1, 1.0)))
	})

	t.Run("Send_CanceledContext", func(t *testing.T) {
		tr, _ := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, tr.Send(ctx, batch(1, 1.0)))
	})
}
