//go:build integration

package integration

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/mock"
	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/require"
)

// recorder collects coordinator events; callbacks arrive on the node's main
// loop while tests read from their own goroutine.
type recorder struct {
	core.NopObserver
	mu       sync.Mutex
	received []string
}

func (r *recorder) MessageReceived(msg *state.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, string(msg.Payload))
}

func (r *recorder) Received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.received))
	copy(out, r.received)
	return out
}

type meshNode struct {
	id   state.NodeId
	st   *state.State
	tr   *mock.Transport
	rec  *recorder
	done chan error
}

// startNode boots a full node against the shared in-memory fabric and waits
// for its main loop to come up.
func startNode(t *testing.T, net *mock.Network, id state.NodeId) *meshNode {
	n := &meshNode{
		id:   id,
		tr:   net.NewTransport(id),
		rec:  &recorder{},
		done: make(chan error, 1),
	}
	cfg := state.DefaultCfg(id)
	cfg.DiscoveryInterval = 100 * time.Millisecond
	go func() {
		n.done <- core.Start(cfg, n.tr, slog.LevelError, &n.st, n.rec)
	}()
	require.Eventually(t, func() bool {
		return n.st != nil && n.st.Started.Load()
	}, 2*time.Second, 10*time.Millisecond, "node %s did not start", id)
	return n
}

func (n *meshNode) coord() *core.Coordinator {
	return core.Get[*core.Coordinator](n.st)
}

func (n *meshNode) role() state.Role {
	return n.coord().LocalNode().Role
}

func (n *meshNode) stop(t *testing.T) {
	n.st.Cancel(errors.New("test finished"))
	select {
	case err := <-n.done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("node %s did not shut down", n.id)
	}
}
