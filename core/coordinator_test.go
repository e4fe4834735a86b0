package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a scripted transport for driving transitions directly.
type fakeTransport struct {
	actions    []string
	createErr  error
	connectErr map[string]error
	reject     map[string]bool
	sent       []*state.Message
}

func (f *fakeTransport) DiscoverPeers(ctx context.Context) error {
	f.actions = append(f.actions, "DISCOVER")
	return nil
}

func (f *fakeTransport) CreateGroup(ctx context.Context) (GroupInfo, error) {
	if f.createErr != nil {
		return GroupInfo{}, f.createErr
	}
	f.actions = append(f.actions, "CREATE_GROUP")
	return GroupInfo{NetworkName: "test-group", Passphrase: "pw", OwnerAddress: "addr-self"}, nil
}

func (f *fakeTransport) Connect(ctx context.Context, address string) (ConnectInfo, error) {
	if err := f.connectErr[address]; err != nil {
		return ConnectInfo{}, err
	}
	if f.reject[address] {
		return ConnectInfo{Connected: false}, nil
	}
	f.actions = append(f.actions, "CONNECT "+address)
	return ConnectInfo{Connected: true, GroupOwnerAddress: address}, nil
}

func (f *fakeTransport) RemoveGroup(ctx context.Context) error {
	f.actions = append(f.actions, "REMOVE_GROUP")
	return nil
}

func (f *fakeTransport) Send(address string, msg *state.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

// eventRecorder keeps a readable trace of coordinator events.
type eventRecorder struct {
	NopObserver
	events []string
}

func (r *eventRecorder) HostReady(info GroupInfo) {
	r.events = append(r.events, "HOST_READY "+info.NetworkName)
}
func (r *eventRecorder) ClientConnected(host state.NodeId) {
	r.events = append(r.events, "CLIENT_CONNECTED "+string(host))
}
func (r *eventRecorder) RoleChanged(role state.Role, reason string) {
	r.events = append(r.events, "ROLE "+role.String())
}
func (r *eventRecorder) MessageReceived(msg *state.Message) {
	r.events = append(r.events, fmt.Sprintf("RECV %s", msg.Payload))
}
func (r *eventRecorder) NodeDiscovered(n *state.Node) {
	r.events = append(r.events, "DISCOVERED "+string(n.Id))
}

// queued dispatch functions for the test state, drained synchronously
var testDispatch chan func(*state.State) error

// newTestCoordinator wires up a full module set on a synchronous test state.
// Auto election is off, tests invoke ticks directly.
func newTestCoordinator(t *testing.T, id state.NodeId) (*state.State, *Coordinator, *fakeTransport, *eventRecorder) {
	ctx, cancel := context.WithCancelCause(context.Background())
	t.Cleanup(func() { cancel(context.Canceled) })

	cfg := state.DefaultCfg(id)
	cfg.AutoElection = state.Ptr(false)
	testDispatch = make(chan func(*state.State) error, 64)
	s := &state.State{
		Modules: make(map[string]state.MeshModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: testDispatch,
			MeshCfg:         cfg,
			Log:             discardLog(),
		},
	}

	tr := &fakeTransport{connectErr: map[string]error{}, reject: map[string]bool{}}
	rec := &eventRecorder{}
	require.NoError(t, initModules(s, tr, rec))
	return s, Get[*Coordinator](s), tr, rec
}

func TestCoordinatorRegistersSelf(t *testing.T) {
	_, c, _, _ := newTestCoordinator(t, "me")

	n := c.LocalNode()
	assert.Equal(t, state.NodeId("me"), n.Id)
	assert.Equal(t, state.RoleUndecided, n.Role)
	assert.Equal(t, 1, c.topo.Len())
}

func TestInitSubscribesTopology(t *testing.T) {
	_, c, _, rec := newTestCoordinator(t, "me")

	// self-registration during Init must not announce us as a peer
	assert.NotContains(t, rec.events, "DISCOVERED me")

	// after Init the coordinator is subscribed and sees new peers
	c.topo.Update(state.NodeUpdate{Id: "n1"})
	assert.Contains(t, rec.events, "DISCOVERED n1")
}

func TestHostTransition(t *testing.T) {
	s, c, tr, rec := newTestCoordinator(t, "me")

	require.NoError(t, c.runElection(s))

	n := c.LocalNode()
	assert.Equal(t, state.RoleHost, n.Role)
	assert.Equal(t, "addr-self", n.Address)
	assert.Contains(t, tr.actions, "CREATE_GROUP")
	assert.Equal(t, []string{"HOST_READY test-group", "ROLE host"}, rec.events)
}

func TestClientTransition(t *testing.T) {
	s, c, tr, rec := newTestCoordinator(t, "me")
	c.topo.Update(state.NodeUpdate{
		Id:      "h1",
		Role:    state.Ptr(state.RoleHost),
		Address: state.Ptr("addr-h1"),
	})

	require.NoError(t, c.runElection(s))

	n := c.LocalNode()
	assert.Equal(t, state.RoleClient, n.Role)
	assert.Equal(t, state.NodeId("h1"), n.ParentHost)
	assert.Contains(t, tr.actions, "CONNECT addr-h1")
	assert.Contains(t, rec.events, "CLIENT_CONNECTED h1")
	assert.Contains(t, rec.events, "ROLE client")

	// the parent is now this node's route out
	assert.Equal(t, []state.NodeId{"h1"}, c.router.Route("h1"))
}

func TestElectionIsIdempotent(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")

	require.NoError(t, c.runElection(s))
	require.NoError(t, c.runElection(s))

	// the second run must not create a second group
	created := 0
	for _, a := range tr.actions {
		if a == "CREATE_GROUP" {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestFailedTransitionKeepsRole(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")
	c.topo.Update(state.NodeUpdate{
		Id:      "h1",
		Role:    state.Ptr(state.RoleHost),
		Address: state.Ptr("addr-h1"),
	})
	tr.connectErr["addr-h1"] = fmt.Errorf("radio busy")

	// the tick swallows the failure, the next tick is the retry
	require.NoError(t, c.runElection(s))
	assert.Equal(t, state.RoleUndecided, c.LocalNode().Role)

	tr.reject["addr-h1"] = true
	delete(tr.connectErr, "addr-h1")
	require.NoError(t, c.runElection(s))
	assert.Equal(t, state.RoleUndecided, c.LocalNode().Role)
}

func TestHostBridgesBackbone(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")
	// three full hosts around: we must host, and bridge to the two strongest
	for i, sig := range []int{-80, -30, -60} {
		c.topo.Update(state.NodeUpdate{
			Id:             state.NodeId(fmt.Sprintf("h%d", i+1)),
			Role:           state.Ptr(state.RoleHost),
			Address:        state.Ptr(fmt.Sprintf("addr-h%d", i+1)),
			SignalStrength: state.Ptr(sig),
			ClientCount:    state.Ptr(state.DefaultMaxClients),
		})
	}

	require.NoError(t, c.runElection(s))

	n := c.LocalNode()
	assert.Equal(t, state.RoleHost, n.Role)
	assert.Equal(t, []state.NodeId{"h2", "h3"}, n.ConnectedHosts)
	assert.Contains(t, tr.actions, "CONNECT addr-h2")
	assert.Contains(t, tr.actions, "CONNECT addr-h3")
	assert.NotContains(t, tr.actions, "CONNECT addr-h1")
}

func TestParentLossTriggersReElection(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")
	c.topo.Update(state.NodeUpdate{Id: "h1", Role: state.Ptr(state.RoleHost), Address: state.Ptr("addr-h1")})
	c.topo.Update(state.NodeUpdate{Id: "h2", Role: state.Ptr(state.RoleHost), Address: state.Ptr("addr-h2"), SignalStrength: state.Ptr(-90)})

	require.NoError(t, c.runElection(s))
	require.Equal(t, state.NodeId("h1"), c.LocalNode().ParentHost)

	// h1 disappears; we re-attach to h2 without waiting for the next tick
	c.topo.Remove("h1")

	n := c.LocalNode()
	assert.Equal(t, state.RoleClient, n.Role)
	assert.Equal(t, state.NodeId("h2"), n.ParentHost)
	assert.Contains(t, tr.actions, "CONNECT addr-h2")
}

func TestParentLossAloneBecomesHost(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")
	c.topo.Update(state.NodeUpdate{Id: "h1", Role: state.Ptr(state.RoleHost), Address: state.Ptr("addr-h1")})

	require.NoError(t, c.runElection(s))
	require.Equal(t, state.RoleClient, c.LocalNode().Role)

	c.topo.Remove("h1")

	assert.Equal(t, state.RoleHost, c.LocalNode().Role)
	assert.Contains(t, tr.actions, "CREATE_GROUP")
}

func TestHostRoutesToOwnClients(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")
	require.NoError(t, c.runElection(s)) // no one around: become host

	c.topo.Update(state.NodeUpdate{
		Id:         "c1",
		Role:       state.Ptr(state.RoleClient),
		Address:    state.Ptr("addr-c1"),
		ParentHost: state.Ptr(state.NodeId("me")),
	})

	res := c.router.RouteMessage(state.NewMessage("me", "c1", []byte("hi")))
	assert.Equal(t, RouteForwarded, res)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, state.NodeId("c1"), tr.sent[0].To)
}

func TestDeliverMessageLocal(t *testing.T) {
	s, c, _, rec := newTestCoordinator(t, "me")

	msg := state.NewMessage("peer", "me", []byte("hello"))
	c.DeliverMessage(msg)
	c.DeliverMessage(msg.Clone()) // replayed copy must be dropped
	drain(s)

	assert.Equal(t, []string{"RECV hello"}, rec.events)
}

func TestDeliverMessageRelays(t *testing.T) {
	s, c, tr, _ := newTestCoordinator(t, "me")
	c.topo.Update(state.NodeUpdate{Id: "h1", Role: state.Ptr(state.RoleHost), Address: state.Ptr("addr-h1")})
	require.NoError(t, c.runElection(s))

	// we are h1's client; a message for h1 passes through us
	msg := state.NewMessage("peer", "h1", []byte("relay me"))
	c.DeliverMessage(msg)
	drain(s)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, state.MessageTTL-1, tr.sent[0].TTL)
}

func TestNetworkStateExcludesSelf(t *testing.T) {
	s, c, _, _ := newTestCoordinator(t, "me")
	require.NoError(t, c.runElection(s)) // become a host ourselves
	c.topo.Update(state.NodeUpdate{Id: "h1", Role: state.Ptr(state.RoleHost), Address: state.Ptr("addr-h1")})

	ns := c.NetworkState()
	assert.Equal(t, 1, ns.NearbyCount)
	require.Len(t, ns.AvailableHosts, 1)
	assert.Equal(t, state.NodeId("h1"), ns.AvailableHosts[0].Id)
}

// drain runs queued dispatch functions synchronously.
func drain(s *state.State) {
	for {
		select {
		case fun := <-testDispatch:
			_ = fun(s)
		default:
			return
		}
	}
}
