// Package netmon watches network reachability and publishes address
// acquisition/loss events on the bus. The sync service uses the acquisition
// event to attempt an immediate sync instead of sitting out a long backoff
// window armed while the device was offline.
package netmon

import (
	"context"
	"net"
	"time"

	"timesyncd/internal/eventbus"
	logx "timesyncd/pkg/logx"
)

type Config struct {
	Enabled bool
	// PollInterval between interface scans. Default 5s.
	PollInterval time.Duration
}

type Service struct {
	cfg Config
	bus eventbus.Bus
	log logx.Logger

	// listAddrs is swappable in tests.
	listAddrs func() ([]net.Addr, error)

	hasAddr bool
	primed  bool
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, bus: bus, log: log, listAddrs: net.InterfaceAddrs}
}

// Run polls until ctx is canceled. Intended to be hosted by the supervisor.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()

	s.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.poll()
		}
	}
}

// poll publishes on reachability transitions. The very first observation also
// publishes when an address is already present, so a freshly started daemon
// kicks off its initial sync without waiting for a link transition.
func (s *Service) poll() {
	up := s.reachable()
	defer func() { s.hasAddr, s.primed = up, true }()

	switch {
	case up && (!s.hasAddr || !s.primed):
		s.log.Info("network reachable")
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeIPAcquired})
	case !up && s.hasAddr:
		s.log.Warn("network unreachable")
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeIPLost})
	}
}

// reachable reports whether any interface carries a global unicast address.
func (s *Service) reachable() bool {
	addrs, err := s.listAddrs()
	if err != nil {
		s.log.Debug("interface scan failed", logx.Err(err))
		return false
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		if ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}
