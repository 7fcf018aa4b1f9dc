package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"linkbeam/pkg/logger"
	"linkbeam/pkg/protocol"
	"linkbeam/pkg/registry"
)

// Config controls the broadcast announcer and listener.
type Config struct {
	DeviceID     string
	DeviceName   string
	AdvertiseIP  string
	TransferPort int

	// ListenAddr is the local UDP address the listener binds.
	ListenAddr string
	// BroadcastAddr is where announcements are sent.
	BroadcastAddr string

	AnnounceInterval time.Duration
	PollTimeout      time.Duration
	StaleAfter       time.Duration

	Now func() time.Time

	// OnDiscovered is called for every accepted announcement; isNew is true
	// the first time a device id is seen.
	OnDiscovered func(p registry.Peer, isNew bool)
}

func (c Config) withDefaults() Config {
	out := c
	if out.AdvertiseIP == "" {
		out.AdvertiseIP = LocalIP()
	}
	if out.TransferPort == 0 {
		out.TransferPort = protocol.TransferPort
	}
	if out.ListenAddr == "" {
		out.ListenAddr = ":" + strconv.Itoa(protocol.DiscoveryPort)
	}
	if out.BroadcastAddr == "" {
		out.BroadcastAddr = net.JoinHostPort(protocol.BroadcastAddr, strconv.Itoa(protocol.DiscoveryPort))
	}
	if out.AnnounceInterval <= 0 {
		out.AnnounceInterval = protocol.AnnounceInterval
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = protocol.PollTimeout
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = protocol.StaleAfter
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("device ID is required")
	}
	if c.TransferPort < 0 || c.TransferPort > 65535 {
		return fmt.Errorf("invalid transfer port %d", c.TransferPort)
	}
	return nil
}

// Service announces this device and listens for peers on the broadcast domain.
type Service struct {
	cfg       Config
	reg       *registry.Registry
	broadcast *net.UDPAddr

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	listener net.PacketConn
	sender   net.PacketConn
	wg       sync.WaitGroup
}

// NewService creates a stopped discovery service feeding reg.
func NewService(config Config, reg *registry.Registry) (*Service, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	broadcast, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve broadcast address: %w", err)
	}

	return &Service{
		cfg:       cfg,
		reg:       reg,
		broadcast: broadcast,
	}, nil
}

// Start binds the discovery port and launches the announcer and listener.
// Calling Start on a running service does nothing.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	lc := net.ListenConfig{Control: setSocketOptions}
	listener, err := lc.ListenPacket(context.Background(), "udp4", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind discovery port: %w", err)
	}

	s.listener = listener
	s.stopCh = make(chan struct{})
	s.running = true

	// A missing sender is retried on every tick.
	s.sender, err = openSender()
	if err != nil {
		logger.Sugar.Warnf("[Discovery] failed to open announce socket: %v", err)
	}

	s.wg.Add(2)
	go s.announceLoop(s.stopCh)
	go s.listenLoop(listener, s.stopCh)

	logger.Sugar.Infof("[Discovery] started: id=%s name=%q listen=%s broadcast=%s",
		s.cfg.DeviceID, s.cfg.DeviceName, listener.LocalAddr(), s.broadcast)
	return nil
}

// Stop signals both loops and closes the sockets. Loops exit at their next
// poll boundary at the latest.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	if s.sender != nil {
		s.sender.Close()
		s.sender = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.Sugar.Infof("[Discovery] stopped")
}

// Running reports whether the service is started.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LocalAddr returns the listener address, or nil when stopped.
func (s *Service) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.listener == nil {
		return nil
	}
	return s.listener.LocalAddr()
}

// Announcement is the payload this device broadcasts.
func (s *Service) Announcement() protocol.Announcement {
	return protocol.Announcement{
		DeviceID:   s.cfg.DeviceID,
		DeviceName: s.cfg.DeviceName,
		IP:         s.cfg.AdvertiseIP,
		Port:       s.cfg.TransferPort,
		Type:       protocol.MessageTypeAnnounce,
	}
}

func (s *Service) announceLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	payload, err := s.Announcement().Marshal()
	if err != nil {
		logger.Sugar.Errorf("[Discovery] failed to encode announcement: %v", err)
		return
	}

	ticker := time.NewTicker(s.cfg.AnnounceInterval)
	defer ticker.Stop()

	s.announce(payload)
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.announce(payload)
		}
	}
}

func (s *Service) announce(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.sender == nil {
		conn, err := openSender()
		if err != nil {
			logger.Sugar.Debugf("[Discovery] announce skipped: %v", err)
			return
		}
		s.sender = conn
	}

	if _, err := s.sender.WriteTo(payload, s.broadcast); err != nil {
		// Typically no network; try again next tick.
		logger.Sugar.Debugf("[Discovery] announce failed: dst=%s err=%v", s.broadcast, err)
	}
}

func (s *Service) listenLoop(conn net.PacketConn, stopCh <-chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.reg.EvictStale(s.cfg.Now(), s.cfg.StaleAfter)

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PollTimeout))
		n, src, err := conn.ReadFrom(buf)
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
			logger.Sugar.Warnf("[Discovery] receive error: %v", err)
			continue
		}

		s.handleDatagram(buf[:n], src)
	}
}

func (s *Service) handleDatagram(data []byte, src net.Addr) {
	ann, err := protocol.ParseAnnouncement(data)
	if err != nil {
		logger.Sugar.Debugf("[Discovery] discarding datagram from %v: %v", src, err)
		return
	}
	if ann.DeviceID == s.cfg.DeviceID {
		return
	}

	ip := strings.TrimSpace(ann.IP)
	if net.ParseIP(ip) == nil {
		udpAddr, ok := src.(*net.UDPAddr)
		if !ok || udpAddr.IP == nil {
			logger.Sugar.Debugf("[Discovery] discarding announcement without usable ip: id=%s", ann.DeviceID)
			return
		}
		ip = udpAddr.IP.String()
	}

	name := strings.TrimSpace(ann.DeviceName)
	if name == "" {
		name = ip
	}

	peer := registry.Peer{
		DeviceID:   ann.DeviceID,
		DeviceName: name,
		Address:    net.JoinHostPort(ip, strconv.Itoa(ann.Port)),
		LastSeen:   s.cfg.Now(),
	}

	isNew := s.reg.Upsert(peer)
	if isNew {
		logger.Sugar.Infof("[Discovery] discovered peer: id=%s name=%q addr=%s", peer.DeviceID, peer.DeviceName, peer.Address)
	}
	if s.cfg.OnDiscovered != nil {
		s.cfg.OnDiscovered(peer, isNew)
	}
}

func openSender() (net.PacketConn, error) {
	lc := net.ListenConfig{Control: setSocketOptions}
	return lc.ListenPacket(context.Background(), "udp4", ":0")
}

// LocalIP returns the address of the interface used for outbound traffic,
// falling back to loopback. No packet is sent.
func LocalIP() string {
	conn, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil && !addr.IP.IsUnspecified() {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
