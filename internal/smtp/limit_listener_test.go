package smtp

import (
	"bufio"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimitListener_RefusesOverCap(t *testing.T) {
	base, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var rejected atomic.Int32
	ln := newLimitListener(base, 1, "sink.test", func() { rejected.Add(1) })
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()

	first, err := net.Dial("tcp", base.Addr().String())
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer func() { _ = first.Close() }()
	held := <-accepted

	second, err := net.Dial("tcp", base.Addr().String())
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer func() { _ = second.Close() }()
	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(second).ReadString('\n')
	if err != nil {
		t.Fatalf("read refusal: %v", err)
	}
	if !strings.HasPrefix(line, "421 sink.test") {
		t.Fatalf("refusal = %q", line)
	}
	if rejected.Load() != 1 {
		t.Fatalf("rejected = %d", rejected.Load())
	}

	// Releasing the held slot admits the next connection.
	_ = held.Close()
	third, err := net.Dial("tcp", base.Addr().String())
	if err != nil {
		t.Fatalf("dial third: %v", err)
	}
	defer func() { _ = third.Close() }()
	select {
	case c := <-accepted:
		_ = c.Close()
	case <-time.After(3 * time.Second):
		t.Fatalf("third connection not accepted")
	}
}

func TestLimitListener_ZeroIsUnlimited(t *testing.T) {
	base, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = base.Close() }()
	if ln := newLimitListener(base, 0, "x", nil); ln != base {
		t.Fatalf("expected base listener")
	}
}
