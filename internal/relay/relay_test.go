package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"striker/internal/clock"
	"striker/internal/metrics"
	"striker/util"
)

func newRelay(m *metrics.Collector) *Relay {
	return &Relay{
		Logger:       util.NewLogger(0),
		Metrics:      m,
		PollInterval: 10 * time.Millisecond,
		AcceptPoll:   50 * time.Millisecond,
		DialTimeout:  time.Second,
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

// echoServer serves io.Copy echo on every accepted connection.
func echoServer(t *testing.T) string {
	t.Helper()
	ln := listen(t)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c) //nolint:errcheck
			}()
		}
	}()
	return ln.Addr().String()
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln := listen(t)
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			ch <- nil
			return
		}
		ch <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server := <-ch
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return util.FormatAddr("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
}

// ── Pipe ─────────────────────────────────────────────────────────────

func TestPipe_BothDirections(t *testing.T) {
	// outerA <-> a | Pipe | b <-> outerB
	outerA, a := tcpPair(t)
	b, outerB := tcpPair(t)

	done := make(chan [2]int64, 1)
	go func() {
		x, y := Pipe(context.Background(), a, b, 10*time.Millisecond, 0)
		done <- [2]int64{x, y}
	}()

	outerA.Write([]byte("to-b")) //nolint:errcheck
	got := make([]byte, 4)
	if _, err := io.ReadFull(outerB, got); err != nil || string(got) != "to-b" {
		t.Fatalf("a->b = %q, %v", got, err)
	}
	outerB.Write([]byte("to-a!")) //nolint:errcheck
	got = make([]byte, 5)
	if _, err := io.ReadFull(outerA, got); err != nil || string(got) != "to-a!" {
		t.Fatalf("b->a = %q, %v", got, err)
	}

	// Closing one side ends the pipe and closes the other.
	outerA.Close()
	select {
	case n := <-done:
		if n[0] != 4 || n[1] != 5 {
			t.Errorf("counts = %v, want [4 5]", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe did not return after one side closed")
	}
	outerB.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	if _, err := outerB.Read(make([]byte, 1)); err == nil {
		t.Error("far side should see the pair closed")
	}
}

func TestPipe_PreservesOrderLargePayload(t *testing.T) {
	outerA, a := tcpPair(t)
	b, outerB := tcpPair(t)
	go Pipe(context.Background(), a, b, 10*time.Millisecond, 1024)

	payload := make([]byte, 300*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	go func() {
		outerA.Write(payload) //nolint:errcheck
	}()

	got := make([]byte, len(payload))
	outerB.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if _, err := io.ReadFull(outerB, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload corrupted or reordered")
	}
}

func TestPipe_CancellationBound(t *testing.T) {
	_, a := tcpPair(t)
	b, _ := tcpPair(t)

	poll := 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Pipe(ctx, a, b, poll, 0)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	cancel()
	select {
	case <-done:
		if el := time.Since(start); el > 10*poll {
			t.Errorf("Pipe took %v to observe cancellation", el)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe ignored cancellation")
	}
}

// ── Tunnel ───────────────────────────────────────────────────────────

func TestTunnel_ForwardsAndCloses(t *testing.T) {
	m := metrics.New()
	r := newRelay(m)
	remote := echoServer(t)
	local := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Tunnel(ctx, local, remote) }()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		if conn, err = net.Dial("tcp", local); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("tunnel never listened: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("hello tunnel")) //nolint:errcheck
	got := make([]byte, 12)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := io.ReadFull(conn, got); err != nil || string(got) != "hello tunnel" {
		t.Fatalf("echo = %q, %v", got, err)
	}

	start := time.Now()
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Tunnel returned %v after cancel", err)
		}
		if el := time.Since(start); el > time.Second {
			t.Errorf("Tunnel took %v to stop", el)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Tunnel ignored cancellation")
	}

	if m.TotalRelays() != 1 || m.ActiveRelays() != 0 {
		t.Errorf("relays total=%d active=%d", m.TotalRelays(), m.ActiveRelays())
	}
	conn.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("client should be closed when the tunnel ends")
	}
}

func TestTunnel_BindFailure(t *testing.T) {
	taken := listen(t)
	r := newRelay(nil)
	if err := r.Tunnel(context.Background(), taken.Addr().String(), "127.0.0.1:1"); err == nil {
		t.Fatal("binding an occupied port should fail")
	}
}

func TestTunnel_RemoteDialFailureClosesClient(t *testing.T) {
	r := newRelay(metrics.New())
	local := freeAddr(t)
	dead := freeAddr(t) // nothing listens here

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Tunnel(ctx, local, dead) //nolint:errcheck

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		if conn, err = net.Dial("tcp", local); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read err = %v, want EOF from closed client", err)
	}
}

// ── Bridge ───────────────────────────────────────────────────────────

func TestBridge_SplicesBothEnds(t *testing.T) {
	lnA, lnB := listen(t), listen(t)
	r := newRelay(metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Bridge(ctx, lnA.Addr().String(), lnB.Addr().String()) }()

	ca, err := lnA.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer ca.Close()
	cb, err := lnB.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer cb.Close()

	ca.Write([]byte("over the bridge")) //nolint:errcheck
	got := make([]byte, 15)
	cb.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := io.ReadFull(cb, got); err != nil || string(got) != "over the bridge" {
		t.Fatalf("bridge = %q, %v", got, err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Bridge returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Bridge ignored cancellation")
	}
}

func TestBridge_SecondDialFailureRetries(t *testing.T) {
	lnA := listen(t)
	dead := freeAddr(t)

	m := metrics.New()
	r := newRelay(m)
	fc := clock.NewFake(time.Unix(0, 0))
	fc.Yield = 5 * time.Millisecond
	r.Clock = fc
	r.RetryDelay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Bridge(ctx, lnA.Addr().String(), dead) }()

	// Each attempt connects to A, fails on B and must close A.
	for i := 0; i < 2; i++ {
		c, err := lnA.Accept()
		if err != nil {
			t.Fatal(err)
		}
		c.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		if _, err := c.Read(make([]byte, 1)); err != io.EOF {
			t.Errorf("attempt %d: first leg not closed: %v", i, err)
		}
		c.Close()
	}

	cancel()
	<-errc
	if m.BridgeRedials() < 2 {
		t.Errorf("redials = %d, want >= 2", m.BridgeRedials())
	}
	if fc.Slept() < 2*r.RetryDelay {
		t.Errorf("slept %v, want at least two retry delays", fc.Slept())
	}
}
