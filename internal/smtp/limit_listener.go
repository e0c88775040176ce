package smtp

import (
	"net"
	"sync"
	"time"
)

// limitListener caps simultaneously open connections. Once the cap is
// reached a new connection is answered with 421 and closed, so Accept never
// stalls behind slow clients.
type limitListener struct {
	net.Listener
	sem      chan struct{}
	greeting []byte
	onReject func()
}

func newLimitListener(base net.Listener, maxConns int, domain string, onReject func()) net.Listener {
	if maxConns <= 0 {
		return base
	}
	return &limitListener{
		Listener: base,
		sem:      make(chan struct{}, maxConns),
		greeting: []byte("421 " + domain + " too many connections, try again later\r\n"),
		onReject: onReject,
	}
}

func (l *limitListener) Accept() (net.Conn, error) {
	for {
		c, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		select {
		case l.sem <- struct{}{}:
			return &limitConn{Conn: c, release: func() { <-l.sem }}, nil
		default:
		}
		_ = c.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = c.Write(l.greeting)
		_ = c.Close()
		if l.onReject != nil {
			l.onReject()
		}
	}
}

type limitConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.release)
	return err
}
