package connectivity

import (
	"context"
	"net"
	"sync"
	"time"
)

// Default prober tuning.
const (
	DefaultProbeAddress  = "1.1.1.1:443"
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Prober determines connectivity by periodically dialing a well-known
// address. It is the portable fallback when no platform source (such as
// NetworkManager) is available.
type Prober struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)

	mu     sync.Mutex
	online bool
	known  bool
	subs   map[int]func(bool)
	nextID int
}

// NewProber creates a prober for the given address. Empty address and
// non-positive interval fall back to defaults.
func NewProber(address string, interval time.Duration) *Prober {
	if address == "" {
		address = DefaultProbeAddress
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	d := &net.Dialer{}
	return &Prober{
		address:  address,
		interval: interval,
		timeout:  DefaultProbeTimeout,
		dial:     d.DialContext,
		subs:     make(map[int]func(bool)),
	}
}

// IsOnline probes immediately when no prior result exists, otherwise
// returns the last probe result.
func (p *Prober) IsOnline(ctx context.Context) bool {
	p.mu.Lock()
	if p.known {
		online := p.online
		p.mu.Unlock()
		return online
	}
	p.mu.Unlock()

	online := p.probe(ctx)
	p.record(online)
	return online
}

// OnChange registers a transition callback.
func (p *Prober) OnChange(callback func(bool)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.subs[id] = callback

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}, nil
}

// Run probes at the configured interval until the context is canceled.
// Blocks; run it in its own goroutine.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.record(p.probe(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.record(p.probe(ctx))
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", p.address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// record stores a probe result and notifies subscribers on transitions.
func (p *Prober) record(online bool) {
	p.mu.Lock()
	changed := !p.known || p.online != online
	p.online = online
	p.known = true
	subs := make([]func(bool), 0, len(p.subs))
	for _, cb := range p.subs {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	for _, cb := range subs {
		cb(online)
	}
}
