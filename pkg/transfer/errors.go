package transfer

import (
	"errors"

	"linkbeam/pkg/protocol"
)

var (
	// ErrPeerUnreachable means the connection to the peer could not be opened.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrLocalIO covers missing, unreadable or unwritable local files and directories.
	ErrLocalIO = errors.New("local I/O failure")
	// ErrTransferAborted means the transport failed during the handshake or data phase.
	ErrTransferAborted = errors.New("transfer aborted")
	// ErrIncomplete means the peer closed the connection before the declared size arrived.
	ErrIncomplete = errors.New("incomplete transfer")
	// ErrReceiverBusy means a restart was refused while an earlier transfer is still running.
	ErrReceiverBusy = errors.New("receiver busy")

	ErrMalformedHandshake = protocol.ErrMalformedHandshake
)
