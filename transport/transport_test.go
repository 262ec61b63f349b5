package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fernwer/Duet/payload"
)

// echoHandler answers with the entry and payload it received
type echoHandler struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (h *echoHandler) Call(ctx context.Context, entry payload.Entry, hexPayload string) (string, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if hexPayload == "FAIL" {
		return "", errors.New("prepare (batch): relation \"missing\" does not exist")
	}
	return string(entry) + ":" + hexPayload + "\nsecond line", nil
}

func setupTestServer(t *testing.T, h Handler) string {
	t.Helper()
	s := NewServer("127.0.0.1:0", h)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s.Addr().String()
}

func TestClientServer_RoundTrip(t *testing.T) {
	h := &echoHandler{}
	addr := setupTestServer(t, h)
	c := NewClient(NewPool(addr, nil))
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := c.Call(ctx, payload.EntryDispatch, "0A01")
		if err != nil {
			t.Fatal(err)
		}
		if want := "mqo_dispatch:0A01\nsecond line"; got != want {
			t.Errorf("Call() = %q, want %q", got, want)
		}
	}
	h.mu.Lock()
	calls := h.calls
	h.mu.Unlock()
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if len(c.conns) != 1 {
		t.Errorf("Expected one reused connection, got %d", len(c.conns))
	}
}

func TestClientServer_RemoteError(t *testing.T) {
	addr := setupTestServer(t, &echoHandler{})
	pool := NewPool(addr, nil)
	c := NewClient(pool)
	defer c.Close()

	_, err := c.Call(context.Background(), payload.EntryDispatch, "FAIL")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("Expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), `relation "missing" does not exist`) {
		t.Errorf("Remote message lost: %v", err)
	}

	// the connection survives a remote error
	if _, err := c.Call(context.Background(), payload.EntryDebug, "00"); err != nil {
		t.Errorf("Call after remote error: %v", err)
	}
}

func TestServer_BadRequest(t *testing.T) {
	addr := setupTestServer(t, &echoHandler{})
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	for _, req := range []string{"mqo_unknown 00\n", "mqo_dispatch\n"} {
		if _, err := conn.Write([]byte(req)); err != nil {
			t.Fatal(err)
		}
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(line, "ERR ") {
			t.Errorf("Request %q answered with %q", req, line)
		}
	}
}

func TestClient_DownPrimaryFallsBack(t *testing.T) {
	fallback := setupTestServer(t, &echoHandler{})

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	down := closed.Addr().String()
	closed.Close()

	pool := NewPool(down, []string{fallback})
	c := NewClient(pool)
	defer c.Close()

	if _, err := c.Call(context.Background(), payload.EntryDispatch, "00"); err == nil {
		t.Fatal("Expected a connection error")
	}
	if pool.IsHealthy(down) {
		t.Error("Primary should be marked unhealthy after a failed connect")
	}

	// the next call goes to the fallback kernel
	if _, err := c.Call(context.Background(), payload.EntryDispatch, "00"); err != nil {
		t.Errorf("Expected fallback kernel to answer, got %v", err)
	}
}

func TestClient_ContextDeadline(t *testing.T) {
	addr := setupTestServer(t, &echoHandler{delay: 500 * time.Millisecond})
	c := NewClient(NewPool(addr, nil))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Call(ctx, payload.EntryDispatch, "00"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		line    string
		want    string
		wantErr error
	}{
		{"OK \"mode=mqo rows=2\"\n", "mode=mqo rows=2", nil},
		{"ERR \"boom\"\n", "", ErrRemote},
		{"OK unquoted\n", "", ErrProtocol},
		{"MAYBE \"x\"\n", "", ErrProtocol},
		{"\n", "", ErrProtocol},
	}
	for _, tt := range tests {
		got, err := parseResponse(tt.line)
		if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
			t.Errorf("parseResponse(%q) error = %v, want %v", tt.line, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseResponse(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
