// Package discovery advertises relays on the local network over mDNS and lets clients find them.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_codecollab._tcp"
	Domain  = "local."
)

// Relay is one advertised relay.
type Relay struct {
	Instance string
	Host     string
	Port     int
	Path     string
}

// URL is the websocket endpoint of the relay.
func (r Relay) URL() string {
	path := r.Path
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + path
}

// Advertise registers a relay listening on port until the returned function is called. An empty instance name is
// derived from the hostname.
func Advertise(instance string, port int) (func(), error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = "codecollab-" + host
	}
	server, err := zeroconf.Register(instance, Service, Domain, port, []string{"txtv=1", "path=/ws"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	slog.Info("mDNS service registered", "instance", instance, "service", Service, "port", port)
	return server.Shutdown, nil
}

// Browse collects relays until ctx is done.
func Browse(ctx context.Context) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []Relay)
	go func() {
		var out []Relay
		for entry := range entries {
			if r, ok := fromEntry(entry); ok {
				slog.Debug("mDNS discovered relay", "instance", r.Instance, "url", r.URL())
				out = append(out, r)
			}
		}
		done <- out
	}()
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()
	return <-done, nil
}

func fromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	r := Relay{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		r.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		r.Host = entry.AddrIPv6[0].String()
	default:
		return Relay{}, false
	}
	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, "path="); ok {
			r.Path = v
		}
	}
	return r, true
}
