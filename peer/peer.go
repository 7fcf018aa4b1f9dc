package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"linkbeam/pkg/discovery"
	"linkbeam/pkg/logger"
	"linkbeam/pkg/monitor"
	"linkbeam/pkg/protocol"
	"linkbeam/pkg/registry"
	"linkbeam/pkg/transfer"
)

const eventBufferSize = 256

// ErrUnknownPeer is returned when a send target is neither a known device id nor host:port.
var ErrUnknownPeer = errors.New("unknown peer")

// EventType names a notification on the node's event stream
type EventType string

const (
	EventPeerDiscovered    EventType = "peer_discovered"
	EventPeerLost          EventType = "peer_lost"
	EventTransferProgress  EventType = "transfer_progress"
	EventTransferCompleted EventType = "transfer_completed"
	EventTransferFailed    EventType = "transfer_failed"
)

// TransferInfo describes the transfer an event refers to
type TransferInfo struct {
	Direction Direction
	FileName  string
	Path      string
	Remote    string
	Progress  protocol.Progress
	Err       error
}

// Event is one notification. Peer is set for peer events, Transfer for transfer events.
type Event struct {
	Type     EventType
	Time     time.Time
	Peer     registry.Peer
	NewPeer  bool
	Transfer TransferInfo
}

// Options configure a Node. Zero values fall back to the protocol defaults.
type Options struct {
	DeviceID   string
	DeviceName string
	// AdvertiseIP is announced to peers; empty probes the outbound interface.
	AdvertiseIP   string
	DiscoveryPort int
	TransferPort  int
	BroadcastAddr string
	// ListenHost restricts the transfer listener; empty means all interfaces.
	ListenHost  string
	DownloadDir string

	EnableMDNS      bool
	MetricsInterval time.Duration

	// OnTransfer is called with the tracker of every transfer as it starts.
	OnTransfer func(*TransferTracker)
}

// Node ties discovery, the registry and both transfer roles together behind one API.
type Node struct {
	opts Options

	registry  *registry.Registry
	discovery *discovery.Service
	mdns      *discovery.MDNS
	sender    *transfer.Sender
	receiver  *transfer.Receiver
	metrics   *monitor.Metrics
	events    chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inboundLock sync.Mutex
	inbound     *TransferTracker
}

func NewNode(opts Options) (*Node, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("device ID is required")
	}
	if opts.DiscoveryPort == 0 {
		opts.DiscoveryPort = protocol.DiscoveryPort
	}
	if opts.TransferPort == 0 {
		opts.TransferPort = protocol.TransferPort
	}
	if opts.BroadcastAddr == "" {
		opts.BroadcastAddr = protocol.BroadcastAddr
	}

	n := &Node{
		opts:    opts,
		sender:  transfer.NewSender(),
		metrics: monitor.New(),
		events:  make(chan Event, eventBufferSize),
	}
	n.registry = registry.New(n.onPeerLost)

	svc, err := discovery.NewService(discovery.Config{
		DeviceID:      opts.DeviceID,
		DeviceName:    opts.DeviceName,
		AdvertiseIP:   opts.AdvertiseIP,
		TransferPort:  opts.TransferPort,
		ListenAddr:    ":" + strconv.Itoa(opts.DiscoveryPort),
		BroadcastAddr: net.JoinHostPort(opts.BroadcastAddr, strconv.Itoa(opts.DiscoveryPort)),
		OnDiscovered:  n.onPeerDiscovered,
	}, n.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery service: %w", err)
	}
	n.discovery = svc

	if opts.EnableMDNS {
		m, err := discovery.NewMDNS(discovery.MDNSConfig{
			DeviceID:     opts.DeviceID,
			DeviceName:   opts.DeviceName,
			TransferPort: opts.TransferPort,
			OnDiscovered: n.onPeerDiscovered,
		}, n.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create mDNS mirror: %w", err)
		}
		n.mdns = m
	}

	n.receiver = transfer.NewReceiver()
	n.receiver.ListenHost = opts.ListenHost
	n.receiver.OnHandshake = n.onInboundHandshake
	n.receiver.OnResult = n.onInboundResult

	logger.Sugar.Infof("[Node] Initialized device %s (%s)", opts.DeviceName, opts.DeviceID)
	return n, nil
}

// Start begins discovery (and the mDNS mirror and metrics logger when enabled).
// The receiver is started separately with StartReceiving.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	if err := n.discovery.Start(); err != nil {
		return err
	}
	if n.mdns != nil {
		if err := n.mdns.Start(); err != nil {
			// mDNS is best effort; broadcast discovery keeps working.
			logger.Sugar.Warnf("[Node] mDNS unavailable: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	if n.opts.MetricsInterval > 0 {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.metrics.LogPeriodic(ctx, n.opts.MetricsInterval)
		}()
	}

	n.running = true
	return nil
}

// Close stops every background activity and waits for it to finish.
// Close is safe to call more than once.
func (n *Node) Close() error {
	n.mu.Lock()
	wasRunning := n.running
	n.running = false
	cancel := n.cancel
	n.mu.Unlock()

	n.receiver.Stop()
	if wasRunning {
		n.discovery.Stop()
		if n.mdns != nil {
			n.mdns.Stop()
		}
		if cancel != nil {
			cancel()
		}
	}
	n.wg.Wait()
	<-n.receiver.Done()
	logger.Sugar.Infof("[Node] Closed")
	return nil
}

// Peers evicts stale records and returns the current peer list.
func (n *Node) Peers() []registry.Peer {
	n.registry.EvictStale(time.Now(), protocol.StaleAfter)
	return n.registry.Snapshot()
}

// Events returns the notification stream. Events are dropped when the buffer is full.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Metrics returns a snapshot of the transfer counters.
func (n *Node) Metrics() monitor.Snapshot {
	return n.metrics.Snapshot()
}

// Registry exposes the underlying peer registry.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// StartReceiving listens on the transfer port, saving files under dir
// (the configured download directory when dir is empty). It fails with
// transfer.ErrReceiverBusy while a transfer from before StopReceiving runs.
func (n *Node) StartReceiving(dir string) error {
	if dir == "" {
		dir = n.opts.DownloadDir
	}
	if dir == "" {
		return fmt.Errorf("%w: no download directory", transfer.ErrLocalIO)
	}
	return n.receiver.Start(n.opts.TransferPort, dir, n.onInboundProgress)
}

// StopReceiving closes the transfer listener. A transfer in flight finishes.
func (n *Node) StopReceiving() {
	n.receiver.Stop()
}

// Receiving reports whether the transfer listener is up.
func (n *Node) Receiving() bool {
	return n.receiver.Running()
}

// ReceiveAddr is the bound transfer address, or nil when not receiving.
func (n *Node) ReceiveAddr() net.Addr {
	return n.receiver.Addr()
}

// Discovering reports whether broadcast discovery is running.
func (n *Node) Discovering() bool {
	return n.discovery.Running()
}

func (n *Node) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case n.events <- ev:
	default:
		logger.Sugar.Debugf("[Node] event buffer full, dropping %s", ev.Type)
	}
}

func (n *Node) onPeerDiscovered(p registry.Peer, isNew bool) {
	if isNew {
		logger.Sugar.Infof("[Node] New peer %s (%s) at %s", p.DeviceName, p.DeviceID, p.Address)
	}
	n.emit(Event{Type: EventPeerDiscovered, Peer: p, NewPeer: isNew})
}

func (n *Node) onPeerLost(p registry.Peer) {
	n.emit(Event{Type: EventPeerLost, Peer: p})
}
