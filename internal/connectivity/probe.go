package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
)

// ProbeConfig holds TCP probe settings.
type ProbeConfig struct {
	Address  string        // host:port to dial
	Interval time.Duration // time between probes
	Timeout  time.Duration // dial timeout
}

// DefaultProbeConfig returns the default probe configuration.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Address:  "1.1.1.1:443",
		Interval: 15 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// ProbeSource decides reachability by dialing a TCP address. Subscribers
// are notified only when the probed state changes. Probing starts with the
// first subscription and stops on Close.
type ProbeSource struct {
	config ProbeConfig
	dial   func(ctx context.Context, network, address string) (net.Conn, error)

	subs subscribers

	mu      sync.Mutex
	last    bool
	known   bool
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProbeSource creates a ProbeSource.
func NewProbeSource(config ProbeConfig) *ProbeSource {
	d := DefaultProbeConfig()
	if config.Interval <= 0 {
		config.Interval = d.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.Address == "" {
		config.Address = d.Address
	}
	return &ProbeSource{
		config: config,
		dial:   (&net.Dialer{}).DialContext,
	}
}

// CurrentState dials once.
func (p *ProbeSource) CurrentState(ctx context.Context) (bool, error) {
	online := p.probe(ctx)

	p.mu.Lock()
	p.last = online
	p.known = true
	p.mu.Unlock()

	return online, nil
}

// Subscribe registers fn and starts probing if not already running.
func (p *ProbeSource) Subscribe(fn func(online bool)) (Subscription, error) {
	sub := p.subs.add(fn)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		p.running = true
		p.stopCh = make(chan struct{})
		p.wg.Add(1)
		go p.loop(p.stopCh)
	}
	return sub, nil
}

// Close stops probing and waits for the probe goroutine.
func (p *ProbeSource) Close() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *ProbeSource) loop(stopCh chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.check(stopCh)
		}
	}
}

func (p *ProbeSource) check(stopCh chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	online := p.probe(ctx)

	p.mu.Lock()
	changed := !p.known || p.last != online
	p.last = online
	p.known = true
	p.mu.Unlock()

	if changed {
		logging.Info("Connectivity probe state changed",
			map[string]interface{}{"address": p.config.Address, "online": online})
		p.subs.notify(online)
	}
}

func (p *ProbeSource) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.config.Address)
	if err != nil {
		logging.Debug("Connectivity probe failed",
			map[string]interface{}{"address": p.config.Address, "error": err.Error()})
		return false
	}
	conn.Close()
	return true
}
