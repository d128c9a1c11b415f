//go:build !linux

package ws

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms.
// Each connection is watched by a goroutine that peeks one byte through a
// buffered reader, reports readiness, and waits for the server to finish the
// frame before peeking again. No bytes are lost because frames are read back
// through the same buffered reader.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]*watched
	readyCh chan net.Conn
	done    chan struct{}
	closed  sync.Once
}

type watched struct {
	br     *bufio.Reader
	resume chan struct{}
}

// NewEpoll creates a new fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*watched),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts its watcher.
func (e *Epoll) Add(conn net.Conn) error {
	w := &watched{br: bufio.NewReader(conn), resume: make(chan struct{}, 1)}
	e.mu.Lock()
	e.conns[conn] = w
	e.mu.Unlock()

	go e.monitor(conn, w)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, w *watched) {
	for {
		_, err := w.br.Peek(1)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// A stale read deadline from the frame reader; clear and retry.
			_ = conn.SetReadDeadline(time.Time{})
			continue
		}

		// Data or a terminal error: either way the server's read path has to
		// look at the connection.
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-w.resume:
		case <-e.done:
			return
		}
	}
}

// Reader returns the reader frames must be read from for conn.
func (e *Epoll) Reader(conn net.Conn) io.Reader {
	e.mu.RLock()
	w, ok := e.conns[conn]
	e.mu.RUnlock()
	if !ok {
		return conn
	}
	return w.br
}

// Resume re-arms the watcher after the server finished with conn.
func (e *Epoll) Resume(conn net.Conn) {
	e.mu.RLock()
	w, ok := e.conns[conn]
	e.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Remove unregisters a connection from the fallback epoll. The watcher is
// woken so it observes the closed connection and exits.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	w, ok := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()
	if ok {
		select {
		case w.resume <- struct{}{}:
		default:
		}
	}
	return nil
}

// Wait blocks until at least one connection is ready for reading and returns
// every connection that is ready at that point.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	e.closed.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]*watched)
	e.mu.Unlock()
	return nil
}

// socketFD is a no-op on non-Linux platforms; connections are keyed by
// net.Conn instead.
func socketFD(conn net.Conn) int {
	return -1
}
