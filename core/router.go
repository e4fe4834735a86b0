package core

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/encodeous/weft/perf"
	"github.com/encodeous/weft/state"
	"github.com/jellydator/ttlcache/v3"
)

// RouteResult classifies the outcome of a forwarding attempt. No route, TTL
// exhaustion and duplicates are expected, frequent outcomes, not errors.
type RouteResult int

const (
	RouteForwarded RouteResult = iota
	RouteDuplicate
	RouteExpired
	RouteNoRoute
)

func (r RouteResult) String() string {
	switch r {
	case RouteForwarded:
		return "forwarded"
	case RouteDuplicate:
		return "duplicate"
	case RouteExpired:
		return "ttl expired"
	default:
		return "no route"
	}
}

type RouterStats struct {
	DirectHosts    int
	MultiHopRoutes int
	ClientRoutes   int
	CachedMessages int
}

// MeshRouter computes reachability over the host backbone and performs
// TTL-bounded forwarding with duplicate suppression. directHosts is owned by
// the coordinator's transitions; clientMap and multiHop are derived state,
// fully rebuilt from a topology snapshot and never patched in place.
//
// All access must happen on the main loop.
type MeshRouter struct {
	*state.State
	log         *slog.Logger
	fwd         Forwarder
	directHosts map[state.NodeId]string
	clientMap   map[state.NodeId]state.NodeId
	multiHop    map[state.NodeId][]state.NodeId
	seen        *ttlcache.Cache[string, time.Time]
}

func newMeshRouter(log *slog.Logger, fwd Forwarder) *MeshRouter {
	return &MeshRouter{
		log:         log,
		fwd:         fwd,
		directHosts: make(map[state.NodeId]string),
		clientMap:   make(map[state.NodeId]state.NodeId),
		multiHop:    make(map[state.NodeId][]state.NodeId),
		seen: ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](state.DedupTTL),
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
	}
}

func (r *MeshRouter) Init(s *state.State) error {
	r.State = s
	r.log = s.Log
	if r.seen == nil {
		*r = *newMeshRouter(s.Log, r.fwd)
		r.State = s
	}
	s.RepeatTask(func(*state.State) error {
		r.SweepDedup()
		return nil
	}, state.DedupSweepDelay)
	return nil
}

func (r *MeshRouter) Cleanup(*state.State) error {
	r.Reset()
	return nil
}

func (r *MeshRouter) SetForwarder(fwd Forwarder) {
	r.fwd = fwd
}

// AddDirectHost registers a direct backbone edge to a host.
func (r *MeshRouter) AddDirectHost(id state.NodeId, address string) {
	r.directHosts[id] = address
}

func (r *MeshRouter) RemoveDirectHost(id state.NodeId) {
	delete(r.directHosts, id)
}

// MapClientToHost registers a leaf's attachment point.
func (r *MeshRouter) MapClientToHost(client, host state.NodeId) {
	r.clientMap[client] = host
}

// Route resolves a path of host ids to the target: a direct host is a
// single hop, a known client resolves through its host, anything else falls
// back to the multi-hop table. Returns nil when the target is unreachable.
func (r *MeshRouter) Route(target state.NodeId) []state.NodeId {
	return r.route(target, make(map[state.NodeId]bool))
}

func (r *MeshRouter) route(target state.NodeId, visited map[state.NodeId]bool) []state.NodeId {
	if _, ok := r.directHosts[target]; ok {
		return []state.NodeId{target}
	}
	if visited[target] {
		// cyclic client mapping, corrupt state
		r.log.Warn("cycle detected while resolving route", "target", target)
		return nil
	}
	visited[target] = true
	if host, ok := r.clientMap[target]; ok {
		return r.route(host, visited)
	}
	if path, ok := r.multiHop[target]; ok {
		return slices.Clone(path)
	}
	return nil
}

// RouteMessage forwards msg one hop. Checks run in a fixed order: TTL first,
// then the dedup cache, then route resolution; the message id is recorded
// before resolving so a re-flood of an unroutable id is still dropped. On
// success the TTL is decremented, the chosen next hop appended to the path
// and the message handed to the forwarder.
func (r *MeshRouter) RouteMessage(msg *state.Message) RouteResult {
	perf.RoutedMessages.Add(1)
	if msg.TTL <= 0 {
		perf.ExpiredMessages.Add(1)
		r.log.Debug("dropping message, ttl exhausted", "id", msg.Id, "to", msg.To)
		return RouteExpired
	}
	if !r.Observe(msg.Id) {
		perf.DuplicateMessages.Add(1)
		r.log.Debug("dropping duplicate message", "id", msg.Id)
		return RouteDuplicate
	}
	route := r.Route(msg.To)
	if len(route) == 0 {
		perf.UnroutableMessages.Add(1)
		r.log.Debug("no route to target", "id", msg.Id, "to", msg.To)
		return RouteNoRoute
	}
	next := route[0]
	msg.TTL--
	msg.Path = append(msg.Path, next)
	perf.ForwardedMessages.Add(1)
	r.fwd.ForwardMessage(msg, next, r.directHosts[next], route)
	return RouteForwarded
}

// Observe records a message id in the dedup cache, reporting whether it was
// seen for the first time.
func (r *MeshRouter) Observe(id string) bool {
	if r.seen.Get(id) != nil {
		return false
	}
	r.seen.Set(id, time.Now(), ttlcache.DefaultTTL)
	return true
}

// BroadcastToHosts synthesizes a per-host message for every direct host and
// routes it. Returns the number of messages actually forwarded.
func (r *MeshRouter) BroadcastToHosts(from state.NodeId, payload []byte) int {
	forwarded := 0
	for _, id := range slices.Sorted(maps.Keys(r.directHosts)) {
		msg := state.NewMessage(from, id, payload)
		msg.Path = []state.NodeId{id}
		if r.RouteMessage(msg) == RouteForwarded {
			forwarded++
		}
	}
	return forwarded
}

// Rebuild fully replaces the derived tables from a topology snapshot. The
// client map is re-read from client records; multi-hop routes come from a
// breadth-first traversal over the host backbone seeded at the direct hosts,
// so the first path found to a host is a shortest one. Branches stop once a
// path reaches the TTL ceiling.
func (r *MeshRouter) Rebuild(nodes map[state.NodeId]*state.Node) {
	clientMap := make(map[state.NodeId]state.NodeId)
	for _, n := range nodes {
		if n.Role == state.RoleClient && n.ParentHost != "" {
			clientMap[n.Id] = n.ParentHost
		}
	}

	multiHop := make(map[state.NodeId][]state.NodeId)
	type entry struct {
		id   state.NodeId
		path []state.NodeId
	}
	visited := make(map[state.NodeId]bool, len(r.directHosts))
	queue := make([]entry, 0, len(r.directHosts))
	for _, id := range slices.Sorted(maps.Keys(r.directHosts)) {
		visited[id] = true
		queue = append(queue, entry{id: id, path: []state.NodeId{id}})
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= state.MessageTTL {
			continue
		}
		host, ok := nodes[cur.id]
		if !ok {
			continue
		}
		for _, next := range host.ConnectedHosts {
			if visited[next] {
				continue
			}
			visited[next] = true
			path := append(slices.Clone(cur.path), next)
			multiHop[next] = path
			queue = append(queue, entry{id: next, path: path})
		}
	}

	r.clientMap = clientMap
	r.multiHop = multiHop
	r.log.Debug("routing table rebuilt",
		"directHosts", len(r.directHosts), "multiHop", len(multiHop), "clients", len(clientMap))
}

func (r *MeshRouter) SweepDedup() {
	r.seen.DeleteExpired()
}

// Reset drops all routing state, including direct hosts and the dedup cache.
func (r *MeshRouter) Reset() {
	r.directHosts = make(map[state.NodeId]string)
	r.clientMap = make(map[state.NodeId]state.NodeId)
	r.multiHop = make(map[state.NodeId][]state.NodeId)
	if r.seen != nil {
		r.seen.DeleteAll()
	}
}

func (r *MeshRouter) Stats() RouterStats {
	return RouterStats{
		DirectHosts:    len(r.directHosts),
		MultiHopRoutes: len(r.multiHop),
		ClientRoutes:   len(r.clientMap),
		CachedMessages: r.seen.Len(),
	}
}
