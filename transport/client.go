package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fernwer/Duet/metrics"
	"github.com/fernwer/Duet/payload"
)

// Client sends kernel calls to the kernels of a pool. It keeps one
// connection per kernel and runs one call at a time.
type Client struct {
	pool        *Pool
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*clientConn
}

type clientConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// NewClient creates a client picking kernels from pool
func NewClient(pool *Pool) *Client {
	return &Client{
		pool:        pool,
		dialTimeout: 5 * time.Second,
		conns:       make(map[string]*clientConn),
	}
}

// Call sends one batch to a kernel and waits for its answer. Failed calls
// are not retried: a batch that may have executed must not run twice. A
// connection failure marks the kernel unhealthy so the next call picks
// another one.
func (c *Client) Call(ctx context.Context, entry payload.Entry, hexPayload string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr, name := c.pool.Pick()
	metrics.KernelCalls.WithLabelValues(name).Inc()

	cc, err := c.connect(ctx, addr)
	if err != nil {
		c.pool.MarkUnhealthy(addr)
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}

	deadline, _ := ctx.Deadline()
	cc.conn.SetDeadline(deadline)

	// unblock the round trip when ctx is cancelled
	stop := context.AfterFunc(ctx, func() { cc.conn.SetDeadline(time.Now()) })
	defer stop()

	result, err := c.roundTrip(cc, entry, hexPayload)
	if err != nil && !errors.Is(err, ErrRemote) {
		c.drop(addr)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return "", context.DeadlineExceeded
		}
		c.pool.MarkUnhealthy(addr)
	}
	return result, err
}

func (c *Client) roundTrip(cc *clientConn, entry payload.Entry, hexPayload string) (string, error) {
	if err := writeRequest(cc.w, entry, hexPayload); err != nil {
		return "", err
	}
	line, err := cc.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return parseResponse(line)
}

func (c *Client) connect(ctx context.Context, addr string) (*clientConn, error) {
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	network, dialAddr := splitAddr(addr)
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, network, dialAddr)
	if err != nil {
		return nil, err
	}
	cc := &clientConn{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
	c.conns[addr] = cc
	return cc, nil
}

func (c *Client) drop(addr string) {
	if cc, ok := c.conns[addr]; ok {
		cc.conn.Close()
		delete(c.conns, addr)
	}
}

// Close closes every kernel connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr := range c.conns {
		c.drop(addr)
	}
	return nil
}
