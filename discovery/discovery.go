// Package discovery announces and finds sketchwire hubs on the local
// network over mDNS.
package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	serviceName = "_sketchwire._tcp"
	domain      = "local."
)

var (
	ErrAnnounce = errors.New("unable to announce hub")
	ErrResolver = errors.New("unable to create mdns resolver")
	ErrBrowse   = errors.New("unable to browse for hubs")
	ErrNoHub    = errors.New("no hub found on the local network")
)

// Announcer keeps a hub's mDNS registration alive until Shutdown.
type Announcer struct {
	logger zerolog.Logger
	server *zeroconf.Server
}

func Announce(logger *zerolog.Logger, instance string, port int) (*Announcer, error) {
	log := logger.With().Str("component", "discovery").Logger()

	server, err := zeroconf.Register(instance, serviceName, domain, port, []string{"proto=sketchwire"}, nil)
	if err != nil {
		return nil, errors.Join(ErrAnnounce, err)
	}

	log.Info().
		Str("instance", instance).
		Int("port", port).
		Msg("hub announced")
	return &Announcer{logger: log, server: server}, nil
}

func (a *Announcer) Shutdown() {
	a.server.Shutdown()
	a.logger.Debug().Msg("announcement withdrawn")
}

// Lookup browses for a hub and returns the address of the first one that
// answers. It blocks until a hub is found or ctx expires.
func Lookup(ctx context.Context, logger *zerolog.Logger) (string, error) {
	log := logger.With().Str("component", "discovery").Logger()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", errors.Join(ErrResolver, err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err = resolver.Browse(ctx, serviceName, domain, entries); err != nil {
		return "", errors.Join(ErrBrowse, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrNoHub
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoHub
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(entry.Port))
			log.Info().
				Str("instance", entry.Instance).
				Str("addr", addr).
				Msg("hub discovered")
			return addr, nil
		}
	}
}
