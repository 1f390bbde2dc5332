package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/libp2p/zeroconf/v2"
	"github.com/sirupsen/logrus"
)

const defaultInstance = "zipforge"

type MDBrowser struct {
	ifaces []net.Interface
}

func NewMDBrowser() (*MDBrowser, error) {
	return &MDBrowser{ifaces: pickInterfaces()}, nil
}

func (b *MDBrowser) Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error {
	if b == nil {
		return fmt.Errorf("browser is required")
	}
	q := Query{Service: service, Domain: domain}.withDefaults()

	rawEntries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-rawEntries:
				if !ok || entry == nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case entries <- convertEntry(entry):
				}
			}
		}
	}()

	if len(b.ifaces) > 0 {
		return zeroconf.Browse(ctx, q.Service, q.Domain, rawEntries, zeroconf.SelectIfaces(b.ifaces))
	}
	return zeroconf.Browse(ctx, q.Service, q.Domain, rawEntries)
}

func convertEntry(entry *zeroconf.ServiceEntry) ServiceEntry {
	return ServiceEntry{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPv4:     copyIPs(entry.AddrIPv4),
		IPv6:     copyIPs(entry.AddrIPv6),
		Text:     append([]string(nil), entry.Text...),
	}
}

type AdvertiseOptions struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Meta     map[string]string
}

func (o AdvertiseOptions) normalize() (AdvertiseOptions, error) {
	q := Query{Service: o.Service, Domain: o.Domain}.withDefaults()
	o.Service, o.Domain = q.Service, q.Domain
	if o.Instance = strings.TrimSpace(o.Instance); o.Instance == "" {
		o.Instance = defaultInstance
	}
	if o.Port <= 0 || o.Port > 65535 {
		return o, fmt.Errorf("invalid advertise port: %d", o.Port)
	}
	return o, nil
}

type Advertiser struct {
	server *zeroconf.Server
	log    logrus.FieldLogger
}

func StartAdvertiser(opts AdvertiseOptions, log logrus.FieldLogger) (*Advertiser, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	server, err := zeroconf.Register(opts.Instance, opts.Service, opts.Domain, opts.Port, TextRecords(opts.Meta), pickInterfaces())
	if err != nil {
		return nil, fmt.Errorf("start mdns advertiser: %w", err)
	}
	log = log.WithFields(logrus.Fields{
		"instance": opts.Instance,
		"service":  opts.Service,
		"domain":   opts.Domain,
		"port":     opts.Port,
	})
	log.Info("mdns advertiser started")
	return &Advertiser{server: server, log: log}, nil
}

func (a *Advertiser) Close() error {
	if a == nil || a.server == nil {
		return nil
	}
	a.server.Shutdown()
	a.log.Info("mdns advertiser stopped")
	return nil
}

func copyIPs(in []net.IP) []net.IP {
	if len(in) == 0 {
		return nil
	}
	out := make([]net.IP, 0, len(in))
	for _, ip := range in {
		if ip == nil {
			continue
		}
		dup := make(net.IP, len(ip))
		copy(dup, ip)
		out = append(out, dup)
	}
	return out
}

// pickInterfaces returns the up, non-loopback interfaces, or nil to let
// zeroconf choose.
func pickInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	out := make([]net.Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		out = append(out, iface)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
