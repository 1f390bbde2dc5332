// Package discovery finds and advertises zipforge servers over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultServiceName = "_zipforge._tcp"
	DefaultDomain      = "local."
)

var ErrNoServiceFound = errors.New("no discovery service found")

// ServiceEntry is one resolved mDNS answer.
type ServiceEntry struct {
	Instance string
	HostName string
	Port     int
	IPv4     []net.IP
	IPv6     []net.IP
	Text     []string
}

type Endpoint struct {
	URL      string
	Instance string
	HostName string
	Port     int
	// Meta holds the key=value TXT records the server advertised.
	Meta map[string]string
}

// Query selects which service to browse. An empty Instance accepts the
// first usable answer.
type Query struct {
	Service  string
	Domain   string
	Instance string
}

func (q Query) withDefaults() Query {
	q.Service = strings.TrimSpace(q.Service)
	q.Domain = strings.TrimSpace(q.Domain)
	q.Instance = strings.TrimSpace(q.Instance)
	if q.Service == "" {
		q.Service = DefaultServiceName
	}
	if q.Domain == "" {
		q.Domain = DefaultDomain
	}
	return q
}

type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error
}

// Discover browses mDNS until an endpoint matching q answers or ctx ends.
func Discover(ctx context.Context, q Query) (Endpoint, error) {
	browser, err := NewMDBrowser()
	if err != nil {
		return Endpoint{}, err
	}
	return DiscoverWithBrowser(ctx, browser, q)
}

// DiscoverWithBrowser returns the first entry matching q that carries a port
// and a usable address. It keeps listening after Browse returns, since some
// browsers deliver answers asynchronously, until ctx ends.
func DiscoverWithBrowser(ctx context.Context, browser Browser, q Query) (Endpoint, error) {
	if browser == nil {
		return Endpoint{}, errors.New("browser is required")
	}
	q = q.withDefaults()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan ServiceEntry, 32)
	errCh := make(chan error, 1)
	go func() {
		errCh <- browser.Browse(scanCtx, q.Service, q.Domain, entries)
	}()

	for {
		select {
		case <-scanCtx.Done():
			return Endpoint{}, fmt.Errorf("discover %s failed: %w", q.Service, ErrNoServiceFound)
		case err := <-errCh:
			if err != nil {
				return Endpoint{}, fmt.Errorf("browse discovery service %s: %w", q.Service, err)
			}
			errCh = nil
		case entry := <-entries:
			if q.Instance != "" && !strings.EqualFold(entry.Instance, q.Instance) {
				continue
			}
			endpoint, ok := EndpointFromEntry(entry)
			if !ok {
				continue
			}
			return endpoint, nil
		}
	}
}

func EndpointFromEntry(entry ServiceEntry) (Endpoint, bool) {
	if entry.Port <= 0 || entry.Port > 65535 {
		return Endpoint{}, false
	}
	ip := pickIP(entry.IPv4, entry.IPv6)
	if ip == nil {
		return Endpoint{}, false
	}
	return Endpoint{
		URL:      "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		Meta:     ParseText(entry.Text),
	}, true
}

// TextRecords renders meta as sorted key=value TXT strings.
func TextRecords(meta map[string]string) []string {
	out := make([]string, 0, len(meta))
	for k, v := range meta {
		if strings.TrimSpace(k) == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseText is the inverse of TextRecords. Records without "=" map to "".
func ParseText(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	out := make(map[string]string, len(records))
	for _, rec := range records {
		k, v, _ := strings.Cut(rec, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = v
		}
	}
	return out
}

func ParseListenPort(listenAddr string) (int, error) {
	trimmed := strings.TrimSpace(listenAddr)
	if trimmed == "" {
		return 0, errors.New("listen address is required")
	}
	_, portStr, err := net.SplitHostPort(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("listen port out of range: %d", port)
	}
	return port, nil
}

// pickIP prefers non-loopback IPv4, then non-loopback IPv6, then loopback.
func pickIP(ipv4 []net.IP, ipv6 []net.IP) net.IP {
	all := append(append([]net.IP{}, ipv4...), ipv6...)
	for _, ip := range all {
		if validAdvertisedIP(ip) && !ip.IsLoopback() {
			return ip
		}
	}
	for _, ip := range all {
		if validAdvertisedIP(ip) {
			return ip
		}
	}
	return nil
}

func validAdvertisedIP(ip net.IP) bool {
	return ip != nil && !ip.IsUnspecified()
}
