package websocket_test

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tether/pkg/adapters/websocket"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xws "golang.org/x/net/websocket"
)

func TestTransport_WriteTimeoutWithStalledPeer(t *testing.T) {
	result := make(chan error, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(xws.Handler(func(conn *xws.Conn) {
		tr := websocket.NewTransport(conn, websocket.WithTransportWriteTimeout(50*time.Millisecond))
		b := domain.Batch{Seq: 1, Messages: []domain.Message{
			domain.PatchMessage(domain.Patch{ModelID: "m", Property: "text", Value: strings.Repeat("x", 1<<20)}),
		}}
		var err error
		// Context without deadline: only the write timeout can end the loop.
		for i := 0; i < 256 && err == nil; i++ {
			err = tr.Send(context.Background(), b)
		}
		result <- err
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	// The peer connects and never reads.
	conn, err := xws.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case err := <-result:
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(10 * time.Second):
		t.Fatal("send blocked on a stalled peer")
	}
}

func TestTransport_SendAfterClose(t *testing.T) {
	got := make(chan []error, 1)
	srv := httptest.NewServer(xws.Handler(func(conn *xws.Conn) {
		tr := websocket.NewTransport(conn)
		first, second := tr.Close(), tr.Close()
		got <- []error{first, second, tr.Send(context.Background(), domain.Batch{Seq: 1})}
	}))
	t.Cleanup(srv.Close)

	conn, err := xws.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	errs := <-got
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1], "closing twice is a no-op")
	assert.ErrorIs(t, errs[2], websocket.ErrClosed)
}
