package transfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"linkbeam/pkg/logger"
	"linkbeam/pkg/protocol"

	"go.uber.org/multierr"
)

const (
	DefaultAcceptTimeout    = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Result describes one finished inbound connection.
type Result struct {
	Remote    string
	Handshake protocol.Handshake
	Path      string
	Bytes     int64
	Err       error
}

// Receiver accepts one file at a time on its transfer port. Connections that
// arrive during a transfer wait in the listen backlog.
type Receiver struct {
	// ListenHost restricts the bind address; empty means all interfaces.
	ListenHost string

	AcceptTimeout    time.Duration
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	ChunkSize        int
	Now              func() time.Time

	// OnHandshake runs after a valid handshake, before the ack is written.
	OnHandshake func(remote string, hs protocol.Handshake, path string)
	// OnResult runs once per accepted connection, success or not.
	OnResult func(Result)

	mu       sync.Mutex
	running  bool
	listener *net.TCPListener
	stopCh   chan struct{}
	done     chan struct{}
}

func NewReceiver() *Receiver {
	return &Receiver{
		AcceptTimeout:    DefaultAcceptTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		ChunkSize:        protocol.ChunkSize,
		Now:              time.Now,
	}
}

// Start creates destDir, binds port and begins accepting in the background.
// Both failures are returned; starting a running receiver does nothing.
// A transfer still running from before a Stop is given one accept timeout
// to finish; after that Start fails with ErrReceiverBusy.
func (r *Receiver) Start(port int, destDir string, onProgress protocol.ProgressFunc) error {
	r.mu.Lock()
	running, prev := r.running, r.done
	r.mu.Unlock()

	if running {
		return nil
	}
	if prev != nil {
		select {
		case <-prev:
		case <-time.After(orDefault(r.AcceptTimeout, DefaultAcceptTimeout)):
			return fmt.Errorf("%w: previous transfer still in progress", ErrReceiverBusy)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.done != prev && !isClosed(r.done) {
		return fmt.Errorf("%w: previous transfer still in progress", ErrReceiverBusy)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create destination directory: %w", ErrLocalIO, err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(r.ListenHost, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to bind transfer port: %w", err)
	}

	r.listener = ln.(*net.TCPListener)
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true

	go r.acceptLoop(r.listener, destDir, onProgress, r.stopCh, r.done)

	logger.Sugar.Infof("[Receiver] listening on %s, saving to %s", r.listener.Addr(), destDir)
	return nil
}

// Stop closes the listener. A transfer in progress runs to completion;
// Done is closed once the accept loop has exited.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
	r.listener.Close()
	logger.Sugar.Infof("[Receiver] stop requested")
}

// Running reports whether the receiver is listening.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Addr returns the listening address, or nil when stopped.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	return r.listener.Addr()
}

// Done is closed when the most recently started accept loop exits.
func (r *Receiver) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

func (r *Receiver) acceptLoop(ln *net.TCPListener, destDir string, onProgress protocol.ProgressFunc, stopCh, done chan struct{}) {
	defer close(done)
	defer ln.Close()

	acceptTimeout := orDefault(r.AcceptTimeout, DefaultAcceptTimeout)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		_ = ln.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := ln.AcceptTCP()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			select {
			case <-stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[Receiver] accept error: %v", err)
			continue
		}

		res := r.receive(conn, destDir, onProgress)
		if res.Err != nil {
			logger.Sugar.Errorf("[Receiver] transfer from %s failed: %v", res.Remote, res.Err)
		} else {
			logger.Sugar.Infof("[Receiver] received %s (%d bytes) from %s", res.Path, res.Bytes, res.Remote)
		}
		if r.OnResult != nil {
			r.OnResult(res)
		}
	}
}

// receive services a single connection and always closes it.
func (r *Receiver) receive(conn net.Conn, destDir string, onProgress protocol.ProgressFunc) (res Result) {
	defer conn.Close()
	res.Remote = conn.RemoteAddr().String()

	// The sender writes the handshake in one go and then waits for the ack,
	// so one read sees all of it.
	_ = conn.SetReadDeadline(time.Now().Add(orDefault(r.HandshakeTimeout, DefaultHandshakeTimeout)))
	hsBuf := make([]byte, protocol.HandshakeBufferSize)
	n, err := conn.Read(hsBuf)
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		res.Err = fmt.Errorf("%w: failed to read handshake: %w", ErrTransferAborted, err)
		return res
	}

	hs, err := protocol.ParseHandshake(hsBuf[:n])
	if err != nil {
		res.Err = err
		return res
	}
	res.Handshake = hs

	name, err := SafeFileName(hs.FileName)
	if err != nil {
		res.Err = err
		return res
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		res.Err = fmt.Errorf("%w: failed to create destination directory: %w", ErrLocalIO, err)
		return res
	}
	target, err := UniquePath(destDir, name, r.now())
	if err != nil {
		res.Err = err
		return res
	}

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		res.Err = fmt.Errorf("%w: failed to create %s: %w", ErrLocalIO, target, err)
		return res
	}
	res.Path = target
	defer func() {
		if cerr := file.Close(); cerr != nil {
			res.Err = multierr.Append(res.Err, fmt.Errorf("%w: failed to close %s: %w", ErrLocalIO, target, cerr))
		}
	}()

	if r.OnHandshake != nil {
		r.OnHandshake(res.Remote, hs, target)
	}

	if _, err := conn.Write(protocol.Ack); err != nil {
		res.Err = fmt.Errorf("%w: failed to write ack: %w", ErrTransferAborted, err)
		return res
	}

	chunkSize := r.ChunkSize
	if chunkSize <= 0 {
		chunkSize = protocol.ChunkSize
	}
	idle := orDefault(r.IdleTimeout, DefaultIdleTimeout)
	buf := make([]byte, chunkSize)

	for res.Bytes < hs.FileSize {
		want := int64(len(buf))
		if remaining := hs.FileSize - res.Bytes; remaining < want {
			want = remaining
		}

		_ = conn.SetReadDeadline(time.Now().Add(idle))
		n, err := conn.Read(buf[:want])
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				res.Err = fmt.Errorf("%w: failed to write %s: %w", ErrLocalIO, target, werr)
				return res
			}
			res.Bytes += int64(n)
			if onProgress != nil {
				onProgress(res.Bytes, hs.FileSize)
			}
		}
		if err != nil && res.Bytes < hs.FileSize {
			if errors.Is(err, io.EOF) {
				res.Err = fmt.Errorf("%w: connection closed after %d of %d bytes", ErrIncomplete, res.Bytes, hs.FileSize)
			} else {
				res.Err = fmt.Errorf("%w: read failed after %d of %d bytes: %w", ErrTransferAborted, res.Bytes, hs.FileSize, err)
			}
			return res
		}
	}
	if hs.FileSize == 0 && onProgress != nil {
		onProgress(0, 0)
	}

	return res
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (r *Receiver) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
