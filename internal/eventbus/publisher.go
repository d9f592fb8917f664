package eventbus

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

// DefaultWorkers is the default size of the async delivery pool.
const DefaultWorkers = 4

// DefaultQueueDepth bounds each partition queue. A full queue makes Publish
// block briefly rather than drop events.
const DefaultQueueDepth = 256

// Publisher delivers events to the bus asynchronously. Publish returns
// immediately; delivery runs on a bounded worker pool. Events with the same
// partition key (entity id) are hashed to the same worker, so per-entity
// delivery is FIFO in publish order. Across entities the order is
// unspecified.
//
// Background delivery deliberately ignores request cancellation: the event
// was committed, so its side effects should run even if the originating
// request has gone away.
type Publisher struct {
	bus    *Bus
	queues []chan *Event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes Publish against Close so a late Publish never hits a
	// closed queue.
	mu        sync.RWMutex
	closeOnce sync.Once
}

// NewPublisher starts a publisher with the given worker count and per-worker
// queue depth (defaults apply when either is < 1).
func NewPublisher(bus *Bus, n, depth int) *Publisher {
	if n < 1 {
		n = DefaultWorkers
	}
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		bus:    bus,
		queues: make([]chan *Event, n),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range p.queues {
		p.queues[i] = make(chan *Event, depth)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}
	return p
}

// Publish enqueues the event for asynchronous delivery and returns. Events
// published after Close are dropped with a warning.
func (p *Publisher) Publish(event *Event) {
	if event == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.ctx.Done():
		slog.Warn("eventbus publish after close; event dropped", "event", event.Type)
		return
	default:
	}
	p.queues[p.shard(event.PartitionKey())] <- event
}

// Close stops the workers after draining queued events.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.cancel()
		for _, q := range p.queues {
			close(q)
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *Publisher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Publisher) worker(queue chan *Event) {
	defer p.wg.Done()
	for event := range queue {
		// Dispatch with a background context: subscribers own their own
		// timeouts.
		if err := p.bus.Dispatch(context.Background(), event); err != nil {
			slog.Warn("eventbus async dispatch failed", "event", event.Type, "error", err)
		}
	}
}
