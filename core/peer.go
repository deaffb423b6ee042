package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
)

// PeerTransport is the peer-forwarding RPC contract consumed by the
// decorator (§6): forward a batch to a named peer, and receive whatever
// batches other peers have forwarded to this node. Peer membership and
// hashing are supplied separately by a PeerSelector; the transport only
// moves bytes.
type PeerTransport interface {
	Forward(ctx context.Context, peerID string, batch Batch) error
	Receive(ctx context.Context) (Batch, error)
}

// PeerSelector resolves a record's key hash to the cluster peer that
// owns it, deterministically over the live peer set (§4.5).
type PeerSelector interface {
	// SelectPeer returns the owning peer ID, or ok=false if no peer is
	// currently known (treated as an immediate timeout per §4.5).
	SelectPeer(keyHash uint64) (peerID string, ok bool)
	LocalPeerID() string
}

// ConsistentHashRing is a PeerSelector built on a consistent-hash ring
// with virtual nodes, so peer membership changes only reshuffle the keys
// adjacent to the changed peer rather than the whole keyspace.
type ConsistentHashRing struct {
	mu        sync.RWMutex
	localPeer string
	vnodes    int
	ring      []ringEntry
}

type ringEntry struct {
	hash uint64
	peer string
}

// NewConsistentHashRing builds a ring seeded with the given peer IDs
// (the local peer must be included if it should receive local-owned
// keys). vnodes controls how many virtual positions each peer gets;
// more virtual nodes smooth the key distribution at the cost of a
// larger ring to search.
func NewConsistentHashRing(localPeer string, vnodes int, peers ...string) *ConsistentHashRing {
	r := &ConsistentHashRing{localPeer: localPeer, vnodes: vnodes}
	r.SetPeers(peers)
	return r
}

// SetPeers replaces the live peer set, rebuilding the ring.
func (r *ConsistentHashRing) SetPeers(peers []string) {
	ring := make([]ringEntry, 0, len(peers)*r.vnodes)
	for _, peer := range peers {
		for v := 0; v < r.vnodes; v++ {
			h := xxhash.Sum64String(fmt.Sprintf("%s#%d", peer, v))
			ring = append(ring, ringEntry{hash: h, peer: peer})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	r.mu.Lock()
	r.ring = ring
	r.mu.Unlock()
}

// LocalPeerID returns the ID this node identifies itself as.
func (r *ConsistentHashRing) LocalPeerID() string { return r.localPeer }

// SelectPeer walks the ring clockwise from keyHash and returns the first
// peer found, wrapping around to the start if needed.
func (r *ConsistentHashRing) SelectPeer(keyHash uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ring) == 0 {
		return "", false
	}
	idx := sort.Search(len(r.ring), func(i int) bool { return r.ring[i].hash >= keyHash })
	if idx == len(r.ring) {
		idx = 0
	}
	return r.ring[idx].peer, true
}

// PeerForwardingDecorator is the Peer-Forwarding Decorator (C5, spec
// §4.5). It wraps a KeyedProcessor that requires cluster-wide key
// affinity, partitioning each incoming batch between the local node and
// remote peers and invoking the wrapped processor once per batch with
// the resulting locally-owned set.
type PeerForwardingDecorator struct {
	wrapped    KeyedProcessor
	pluginName string // real plugin name from the owning PluginSpec, per DESIGN NOTES §9
	pipeline   string

	selector  PeerSelector
	transport PeerTransport

	maxAttempts int
	baseBackoff time.Duration

	mu       sync.Mutex
	breakers map[string]*BaseCircuitBreaker

	errors  *ErrorCollector
	handler ErrorHandler

	inbox  chan Batch
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetErrorReporting wires the decorator into the owning pipeline's error
// taxonomy (§7): every exhausted forward is collected and handed to
// handler, the same treatment the runtime gives processor and sink
// failures. Either argument may be nil to leave that part unwired.
func (d *PeerForwardingDecorator) SetErrorReporting(collector *ErrorCollector, handler ErrorHandler) {
	d.errors = collector
	d.handler = handler
}

// NewPeerForwardingDecorator wraps processor for pipeline, identified to
// the cluster as pluginName, routing through transport per selector's
// peer assignment. maxAttempts bounds retries on a remote send before
// the affected records are dropped; baseBackoff is the first retry
// delay, doubled on each subsequent attempt.
func NewPeerForwardingDecorator(pipeline, pluginName string, processor KeyedProcessor, selector PeerSelector, transport PeerTransport, maxAttempts int, baseBackoff time.Duration) *PeerForwardingDecorator {
	d := &PeerForwardingDecorator{
		wrapped:     processor,
		pluginName:  pluginName,
		pipeline:    pipeline,
		selector:    selector,
		transport:   transport,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		breakers:    make(map[string]*BaseCircuitBreaker),
		inbox:       make(chan Batch, 64),
		stopCh:      make(chan struct{}),
	}
	d.wg.Add(1)
	go d.receiveLoop()
	return d
}

// Capabilities reports CapabilityPeerForwarding so the decorator composes
// correctly if it is itself inspected by factory/registry code.
func (d *PeerForwardingDecorator) Capabilities() Capability {
	return CapabilityPeerForwarding
}

// receiveLoop pulls batches forwarded by peers into the local inbox for
// the next Execute call to consume.
func (d *PeerForwardingDecorator) receiveLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}
		batch, err := d.transport.Receive(context.Background())
		if err != nil {
			continue
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case d.inbox <- batch:
		case <-d.stopCh:
			return
		}
	}
}

// Close stops the receive loop. Safe to call once at pipeline teardown.
func (d *PeerForwardingDecorator) Close() {
	close(d.stopCh)
	d.wg.Wait()
}

// Execute implements Processor: partitions batch by key ownership,
// forwards non-local partitions to their owning peers concurrently,
// folds in whatever arrived from peers for this node, and invokes the
// wrapped processor exactly once with the combined locally-owned set.
func (d *PeerForwardingDecorator) Execute(ctx context.Context, batch Batch) (Batch, error) {
	local := make(Batch, 0, len(batch))
	remote := make(map[string]Batch)

	for _, record := range batch {
		hash := xxhash.Sum64String(record.Key)
		peer, ok := d.selector.SelectPeer(hash)
		if ok && peer == d.selector.LocalPeerID() {
			local = append(local, record)
			continue
		}
		if !ok {
			// A missing peer at selection time is an immediate timeout (§4.5).
			peer = ""
		}
		remote[peer] = append(remote[peer], record)
	}

	if len(remote) > 0 {
		var group errgroup.Group
		for peerID, sub := range remote {
			peerID, sub := peerID, sub
			group.Go(func() error {
				// Per-key forwarding failures are contained here (§7) and
				// never propagated to sibling sends: a bound errgroup would
				// cancel every other peer's in-flight retry the moment one
				// peer exhausts its attempts, which is not the isolation
				// the spec asks for. The returned error (exhaustion or
				// context cancellation) only reaches group.Wait, whose
				// result Execute does not act on.
				return d.forwardWithRetry(ctx, peerID, sub)
			})
		}
		group.Wait()
	}

drain:
	for {
		select {
		case arrived := <-d.inbox:
			local = append(local, arrived...)
		default:
			break drain
		}
	}

	if len(local) == 0 {
		return Batch{}, nil
	}
	return d.wrapped.Execute(ctx, local)
}

// forwardWithRetry sends sub to peerID with exponential backoff, up to
// maxAttempts. On exhaustion the records are dropped and counted, never
// retried elsewhere (§4.5, §7).
func (d *PeerForwardingDecorator) forwardWithRetry(ctx context.Context, peerID string, sub Batch) error {
	breaker := d.breakerFor(peerID)
	delay := d.baseBackoff

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := breaker.Execute(ctx, func() error {
			if peerID == "" {
				return fmt.Errorf("no peer owns this key")
			}
			return d.transport.Forward(ctx, peerID, sub)
		})
		if err == nil {
			return nil
		}
		if attempt == d.maxAttempts {
			PeerForwardDrops.WithLabelValues(d.pipeline, d.pluginName).Add(float64(len(sub)))
			RecordsDropped.WithLabelValues(d.pipeline, "peer_forward_exhausted").Add(float64(len(sub)))
			perr := NewPeerForwardingError(d.pipeline, d.pluginName, err)
			if d.errors != nil {
				d.errors.Collect(perr)
			}
			if d.handler != nil {
				// The verdict is informational only: retries are already
				// exhausted and the records already counted dropped, so
				// there is nothing left for Retry/Abort to change here.
				d.handler.HandleError(ctx, perr)
			}
			return perr
		}
		PeerForwardRetries.WithLabelValues(d.pipeline, d.pluginName).Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return nil
}

func (d *PeerForwardingDecorator) breakerFor(peerID string) *BaseCircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[peerID]
	if !ok {
		b = NewCircuitBreaker(5, 2, 30*time.Second)
		d.breakers[peerID] = b
	}
	return b
}
