package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"linkbeam/pkg/logger"
	"linkbeam/pkg/protocol"

	"go.uber.org/multierr"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultAckTimeout  = 10 * time.Second
	DefaultIdleTimeout = 30 * time.Second
	ackBufferSize      = 64
)

// Sender pushes single files to peers. A Sender is safe for concurrent use;
// every Send opens its own connection.
type Sender struct {
	DialTimeout time.Duration
	// AckTimeout bounds the wait for the receiver's ready-to-receive reply.
	AckTimeout time.Duration
	// IdleTimeout bounds each chunk write.
	IdleTimeout time.Duration
	ChunkSize   int
}

func NewSender() *Sender {
	return &Sender{
		DialTimeout: DefaultDialTimeout,
		AckTimeout:  DefaultAckTimeout,
		IdleTimeout: DefaultIdleTimeout,
		ChunkSize:   protocol.ChunkSize,
	}
}

// Send streams filePath to the receiver at peerAddress. onProgress, if set,
// is called after every chunk with the running byte count.
// Cancelling ctx closes the connection, which aborts the transfer.
func (s *Sender) Send(ctx context.Context, peerAddress, filePath string, onProgress protocol.ProgressFunc) (err error) {
	file, size, err := openSource(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	// Only the local separator is stripped here; the receiver sanitizes
	// peer names for both '/' and '\'.
	hs := protocol.Handshake{FileName: filepath.Base(filePath), FileSize: size}

	dialer := net.Dialer{Timeout: orDefault(s.DialTimeout, DefaultDialTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", peerAddress)
	if err != nil {
		return fmt.Errorf("%w: failed to dial %s: %w", ErrPeerUnreachable, peerAddress, err)
	}

	stopWatch := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stopWatch()
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("failed to close connection: %w", cerr))
		}
	}()

	logger.Sugar.Infof("[Sender] sending %s (%d bytes) to %s", hs.FileName, hs.FileSize, peerAddress)

	if _, err := conn.Write(hs.Encode()); err != nil {
		return fmt.Errorf("%w: failed to write handshake: %w", ErrTransferAborted, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(orDefault(s.AckTimeout, DefaultAckTimeout)))
	ack := make([]byte, ackBufferSize)
	if n, err := conn.Read(ack); n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return fmt.Errorf("%w: no acknowledgement from %s: %w", ErrTransferAborted, peerAddress, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = protocol.ChunkSize
	}
	idle := orDefault(s.IdleTimeout, DefaultIdleTimeout)
	buf := make([]byte, chunkSize)

	var sent int64
	for sent < size {
		n := int64(len(buf))
		if remaining := size - sent; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(file, buf[:n]); err != nil {
			return fmt.Errorf("%w: failed to read %s at offset %d: %w", ErrLocalIO, filePath, sent, err)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(idle))
		if _, err := conn.Write(buf[:n]); err != nil {
			return fmt.Errorf("%w: failed to write chunk at offset %d: %w", ErrTransferAborted, sent, err)
		}

		sent += n
		if onProgress != nil {
			onProgress(sent, size)
		}
	}
	if size == 0 && onProgress != nil {
		onProgress(0, 0)
	}

	logger.Sugar.Infof("[Sender] sent %s (%d bytes) to %s", hs.FileName, sent, peerAddress)
	return nil
}

func openSource(filePath string) (*os.File, int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to stat %s: %w", ErrLocalIO, filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrLocalIO, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to open %s: %w", ErrLocalIO, filePath, err)
	}

	// Size from the open handle so it matches what will be read.
	info, err = file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("%w: failed to stat %s: %w", ErrLocalIO, filePath, err)
	}
	return file, info.Size(), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
