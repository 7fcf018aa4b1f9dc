package peer

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"linkbeam/pkg/logger"
	"linkbeam/pkg/protocol"
	"linkbeam/pkg/transfer"
)

// SendFile pushes the file at path to target, which is either a device id
// from the registry or a literal host:port.
func (n *Node) SendFile(ctx context.Context, target, path string) error {
	address, err := n.resolveTarget(target)
	if err != nil {
		return err
	}

	tracker := NewTransferTracker(Outbound, filepath.Base(path), address, 0)
	if n.opts.OnTransfer != nil {
		n.opts.OnTransfer(tracker)
	}

	start := time.Now()
	err = n.sender.Send(ctx, address, path, func(transferred, total int64) {
		if tracker.Update(transferred, total) {
			n.emitProgress(tracker)
		}
	})

	info := TransferInfo{
		Direction: Outbound,
		FileName:  tracker.FileName,
		Path:      path,
		Remote:    address,
		Err:       err,
	}
	if err != nil {
		tracker.MarkFailed(err)
		n.metrics.RecordFailed()
		info.Progress = tracker.Progress()
		n.emit(Event{Type: EventTransferFailed, Transfer: info})
		return err
	}

	tracker.MarkComplete()
	info.Progress = tracker.Progress()
	n.metrics.RecordSent(info.Progress.TotalBytes, time.Since(start))
	n.emit(Event{Type: EventTransferCompleted, Transfer: info})
	return nil
}

// resolveTarget maps a device id to its registered address; anything that
// parses as host:port is used as is.
func (n *Node) resolveTarget(target string) (string, error) {
	if p, ok := n.registry.Get(target); ok {
		return p.Address, nil
	}
	if host, port, err := net.SplitHostPort(target); err == nil && host != "" && port != "" {
		return target, nil
	}
	return "", fmt.Errorf("%w: %q is not a known device id or host:port", ErrUnknownPeer, target)
}

func (n *Node) onInboundHandshake(remote string, hs protocol.Handshake, path string) {
	tracker := NewTransferTracker(Inbound, filepath.Base(path), remote, hs.FileSize)

	n.inboundLock.Lock()
	n.inbound = tracker
	n.inboundLock.Unlock()

	logger.Sugar.Infof("[Node] Receiving %s (%d bytes) from %s", hs.FileName, hs.FileSize, remote)
	if n.opts.OnTransfer != nil {
		n.opts.OnTransfer(tracker)
	}
}

func (n *Node) onInboundProgress(transferred, total int64) {
	n.inboundLock.Lock()
	tracker := n.inbound
	n.inboundLock.Unlock()

	if tracker == nil {
		return
	}
	if tracker.Update(transferred, total) {
		n.emitProgress(tracker)
	}
}

func (n *Node) onInboundResult(res transfer.Result) {
	n.inboundLock.Lock()
	tracker := n.inbound
	n.inbound = nil
	n.inboundLock.Unlock()

	info := TransferInfo{
		Direction: Inbound,
		FileName:  res.Handshake.FileName,
		Path:      res.Path,
		Remote:    res.Remote,
		Progress:  protocol.Progress{BytesTransferred: res.Bytes, TotalBytes: res.Handshake.FileSize},
		Err:       res.Err,
	}

	if res.Err != nil {
		if tracker != nil {
			tracker.MarkFailed(res.Err)
		}
		n.metrics.RecordFailed()
		n.emit(Event{Type: EventTransferFailed, Transfer: info})
		return
	}

	var elapsed time.Duration
	if tracker != nil {
		tracker.MarkComplete()
		elapsed = tracker.Elapsed()
	}
	n.metrics.RecordReceived(res.Bytes, elapsed)
	n.emit(Event{Type: EventTransferCompleted, Transfer: info})
}

func (n *Node) emitProgress(t *TransferTracker) {
	info := TransferInfo{
		Direction: t.Direction,
		FileName:  t.FileName,
		Remote:    t.Remote,
		Progress:  t.Progress(),
	}
	n.emit(Event{Type: EventTransferProgress, Transfer: info})
}
