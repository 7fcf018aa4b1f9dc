package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fixed protocol constants
const (
	// DiscoveryPort is the UDP port announcements are broadcast to
	DiscoveryPort = 12346
	// TransferPort is the TCP port receivers listen on
	TransferPort = 12345
	// BroadcastAddr is the limited broadcast address of the local network
	BroadcastAddr = "255.255.255.255"

	AnnounceInterval = 5 * time.Second
	StaleAfter       = 30 * time.Second
	PollTimeout      = time.Second

	// ChunkSize is the data phase read/write unit (4096*4)
	ChunkSize = 4096 * 4
	// HandshakeBufferSize bounds the single handshake read
	HandshakeBufferSize = 4096
	// MaxDatagramSize bounds a discovery datagram read
	MaxDatagramSize = 4096

	MessageTypeAnnounce = "announce"
)

// Ack is the fixed acknowledgement the receiver writes after the handshake.
// Senders only care that something arrived.
var Ack = []byte("OK")

var (
	ErrMalformedAnnouncement = errors.New("malformed announcement")
	ErrMalformedHandshake    = errors.New("malformed handshake")
)

// --- Discovery ---

// Announcement is the broadcast presence datagram
type Announcement struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Type       string `json:"type"`
}

func (a Announcement) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// ParseAnnouncement decodes and validates a discovery datagram.
func ParseAnnouncement(data []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformedAnnouncement, err)
	}
	a.DeviceID = strings.TrimSpace(a.DeviceID)
	if a.DeviceID == "" {
		return Announcement{}, fmt.Errorf("%w: missing device_id", ErrMalformedAnnouncement)
	}
	if a.Type != MessageTypeAnnounce {
		return Announcement{}, fmt.Errorf("%w: unexpected type %q", ErrMalformedAnnouncement, a.Type)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return Announcement{}, fmt.Errorf("%w: invalid port %d", ErrMalformedAnnouncement, a.Port)
	}
	return a, nil
}

// --- Transfer ---

// Handshake is the metadata sent before the data phase: "<fileName>|<fileSize>"
type Handshake struct {
	FileName string
	FileSize int64
}

func (h Handshake) Encode() []byte {
	return []byte(h.FileName + "|" + strconv.FormatInt(h.FileSize, 10))
}

// ParseHandshake splits on the last '|' so names containing the separator survive.
func ParseHandshake(data []byte) (Handshake, error) {
	raw := string(data)
	idx := strings.LastIndexByte(raw, '|')
	if idx <= 0 {
		return Handshake{}, fmt.Errorf("%w: %q", ErrMalformedHandshake, raw)
	}

	size, err := strconv.ParseInt(strings.TrimSpace(raw[idx+1:]), 10, 64)
	if err != nil {
		return Handshake{}, fmt.Errorf("%w: bad size: %v", ErrMalformedHandshake, err)
	}
	if size < 0 {
		return Handshake{}, fmt.Errorf("%w: negative size %d", ErrMalformedHandshake, size)
	}

	return Handshake{FileName: raw[:idx], FileSize: size}, nil
}

// Progress is an ephemeral transfer progress reading
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64
}

// Fraction is in [0,1]; an empty transfer counts as complete.
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 1
	}
	f := float64(p.BytesTransferred) / float64(p.TotalBytes)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// ProgressFunc is invoked after each chunk. It may run on any goroutine.
type ProgressFunc func(transferred, total int64)
