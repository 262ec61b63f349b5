package transport

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

// Pool routes kernel calls to the primary kernel while it is healthy and
// to the fallback kernels, in configured order, while it is not.
type Pool struct {
	primary string
	kernels []string

	mu      sync.RWMutex
	healthy map[string]bool
}

// NewPool creates a pool. Every kernel starts out healthy.
func NewPool(primary string, kernels []string) *Pool {
	p := &Pool{
		primary: primary,
		kernels: kernels,
		healthy: map[string]bool{primary: true},
	}
	for _, k := range kernels {
		p.healthy[k] = true
	}
	return p
}

// Primary returns the primary kernel address
func (p *Pool) Primary() string {
	return p.primary
}

// Pick returns the address and name of the kernel to call: the primary if
// healthy, else the first healthy fallback. With nothing healthy it still
// returns the primary.
func (p *Pool) Pick() (string, string) {
	if p.IsHealthy(p.primary) {
		return p.primary, "primary"
	}
	for i, k := range p.kernels {
		if p.IsHealthy(k) {
			return k, "kernel" + strconv.Itoa(i+1)
		}
	}
	log.Printf("[Pool] Warning: no healthy kernels, trying primary %s", p.primary)
	return p.primary, "primary"
}

// MarkUnhealthy marks a kernel as unhealthy
func (p *Pool) MarkUnhealthy(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if healthy, exists := p.healthy[addr]; exists && healthy {
		p.healthy[addr] = false
		log.Printf("[Pool] Marked %s as unhealthy", addr)
	}
}

// MarkHealthy marks a kernel as healthy
func (p *Pool) MarkHealthy(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if healthy, exists := p.healthy[addr]; exists && !healthy {
		p.healthy[addr] = true
		log.Printf("[Pool] Marked %s as healthy", addr)
	}
}

// IsHealthy returns whether a kernel is healthy
func (p *Pool) IsHealthy(addr string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy[addr]
}

// StartHealthChecks probes the primary and every fallback kernel
// periodically until ctx is done
func (p *Pool) StartHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.checkAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAll()
		}
	}
}

func (p *Pool) checkAll() {
	go p.check(p.primary)
	for _, k := range p.kernels {
		go p.check(k)
	}
}

func (p *Pool) check(addr string) {
	network, dialAddr := splitAddr(addr)
	conn, err := net.DialTimeout(network, dialAddr, 2*time.Second)
	if err != nil {
		p.MarkUnhealthy(addr)
		return
	}
	conn.Close()
	p.MarkHealthy(addr)
}

// splitAddr accepts host:port or unix:/path addresses
func splitAddr(addr string) (network, dialAddr string) {
	if len(addr) > 5 && addr[:5] == "unix:" {
		return "unix", addr[5:]
	}
	return "tcp", addr
}
