package components

import (
	"context"
	"fmt"
	"sync"

	"github.com/forrest/flowmesh/core"
)

func init() {
	core.DefaultRegistry.Register("keyed-counter", core.KindProcessor, func(attrs map[string]interface{}) (interface{}, error) {
		return NewKeyedCounter(), nil
	})
	core.DefaultRegistry.Register("sequencer", core.KindProcessor, func(attrs map[string]interface{}) (interface{}, error) {
		return NewSequencer(), nil
	})
}

// KeyedCounter is a stateful Processor that counts how many times each
// record.Key has been seen and stamps the running count back onto the
// event, demonstrating the cluster-wide stateful processing the
// Peer-Forwarding Decorator (C5, §4.5) exists to support: every record
// sharing a key must reach the same node so its count stays correct,
// which is exactly what KeyFields + CapabilityPeerForwarding request of
// the builder.
//
// There is no teacher equivalent — go-flow's components are all
// stateless single-call transforms — so this is grounded directly on
// spec §4.5's description of a "stateful keyed processor" rather than
// adapted from an existing file.
type KeyedCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewKeyedCounter creates a counter with no observed keys yet.
func NewKeyedCounter() *KeyedCounter {
	return &KeyedCounter{counts: make(map[string]int64)}
}

// Capabilities declares that this processor must run behind the
// peer-forwarding decorator.
func (p *KeyedCounter) Capabilities() core.Capability {
	return core.CapabilityPeerForwarding
}

// KeyFields names the Record field the decorator hashes on: Key.
func (p *KeyedCounter) KeyFields() []string {
	return []string{"key"}
}

// Execute increments the per-key count for every record in batch and
// replaces its event with "<key>:<count>".
func (p *KeyedCounter) Execute(ctx context.Context, batch core.Batch) (core.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(core.Batch, 0, len(batch))
	for _, record := range batch {
		p.counts[record.Key]++
		next := *record
		next.Event = fmt.Sprintf("%s:%d", record.Key, p.counts[record.Key])
		out = append(out, &next)
	}
	return out, nil
}

// Sequencer is a single-thread-affinity Processor: it stamps each record
// with a strictly increasing sequence number, which only holds if each
// worker has its own private counter instance rather than every worker
// racing on one shared, unlocked counter. This exercises the builder's
// other multiplicity branch (CapabilitySingleThread, §4.1) alongside
// KeyedCounter's peer-forwarding branch.
type Sequencer struct {
	next int64
}

// NewSequencer creates a sequencer starting at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Capabilities declares that this processor needs one dedicated
// instance per worker rather than a single shared instance.
func (p *Sequencer) Capabilities() core.Capability {
	return core.CapabilitySingleThread
}

func (p *Sequencer) Execute(ctx context.Context, batch core.Batch) (core.Batch, error) {
	out := make(core.Batch, 0, len(batch))
	for _, record := range batch {
		next := *record
		next.Event = fmt.Sprintf("%d:%v", p.next, record.Event)
		p.next++
		out = append(out, &next)
	}
	return out, nil
}
