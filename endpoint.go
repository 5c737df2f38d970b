package ipc

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"mmapipc.dev/ipc/internal/layout"
)

// Endpoint is one side of a two-process mmap IPC connection. It is built
// by Open, which claims either RoleA or RoleB in the shared file's header.
// One Send call and one Recv call may run concurrently (they touch
// independent rings and independent mutexes). Concurrent Send calls on one
// Endpoint are serialized by its send mutex, and concurrent Recv calls by
// its recv mutex, so each direction keeps a single producer and a single
// consumer even when callers within one process share the Endpoint.
type Endpoint struct {
	m    *layout.Mapping
	role Role

	sendRing ring
	recvRing ring

	pollInterval time.Duration
	logger       *zap.Logger

	sendMu sync.Mutex
	recvMu sync.Mutex

	closeOnce sync.Once
	closed    bool
	closeMu   sync.Mutex
}

// Open binds to path, creating and zero-filling the backing file if it
// does not exist, then claims whichever of role A / role B is still free
// (§4.2, §4.3, §6).
func Open(path string, opts ...Option) (*Endpoint, error) {
	cfg := newConfig(opts)

	m, created, err := layout.Open(path, cfg.payloadSize)
	if err != nil {
		return nil, err
	}

	role, sendBase, recvBase, err := claim(m, cfg.payloadSize, cfg.logger)
	if err != nil {
		m.Close()
		return nil, err
	}

	e := &Endpoint{
		m:            m,
		role:         role,
		sendRing:     newRing(m, sendBase),
		recvRing:     newRing(m, recvBase),
		pollInterval: cfg.pollInterval,
		logger:       cfg.logger,
	}

	e.logger.Info("mmapipc: attached",
		zap.String("path", path),
		zap.String("role", role.String()),
		zap.Bool("created_file", created),
	)

	// Safety net for a caller that forgets Close (§4.6): without it a
	// leaked Endpoint never clears its OP bit, permanently wedging the
	// file against a fresh pair of attaches.
	runtime.SetFinalizer(e, (*Endpoint).Close)

	return e, nil
}

// Role reports which endpoint (A or B) this attach claimed.
func (e *Endpoint) Role() Role {
	return e.role
}

// Send writes one length-prefixed frame into this endpoint's send ring
// (§4.5, §6). It returns the number of payload bytes written.
//
// If blocking is false, Send returns (0, nil) immediately when there is
// not enough free space for len(data)+4 bytes. If blocking is true, Send
// polls every pollInterval (100ms by default) until space frees up,
// timeout expires (returning ErrTimeout), or timeout is nil (wait
// forever). There is no ceiling check against ring capacity (§9): a
// payload that can never fit simply never frees up, so it behaves like
// any other send that isn't serviced in time.
func (e *Endpoint) Send(data []byte, blocking bool, timeout *time.Duration) (int, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	if e.isClosed() {
		return 0, ErrClosed
	}
	return e.send(data, blocking, timeout)
}

// Recv reads one length-prefixed frame from this endpoint's recv ring
// (§4.5, §6). It returns nil when blocking is false and the ring is
// empty.
//
// Blocking/timeout semantics mirror Send.
func (e *Endpoint) Recv(blocking bool, timeout *time.Duration) ([]byte, error) {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	if e.isClosed() {
		return nil, ErrClosed
	}
	return e.recv(blocking, timeout)
}

func (e *Endpoint) isClosed() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closed
}

// Close detaches this endpoint (§4.6): clears its OP bit in Sign and zeros
// both cursors of the ring it was reading from, then unmaps and closes the
// backing file. Its send ring is left intact for the peer to finish
// draining.
//
// Close is idempotent; calling it more than once is a no-op after the
// first call.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		runtime.SetFinalizer(e, nil)

		e.closeMu.Lock()
		e.closed = true
		e.closeMu.Unlock()

		release(e.m, e.role)
		e.m.StoreInOffset(e.recvRing.base, 0)
		e.m.StoreOutOffset(e.recvRing.base, 0)

		e.logger.Info("mmapipc: detached", zap.String("role", e.role.String()))
		err = e.m.Close()
	})
	return err
}
