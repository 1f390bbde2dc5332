package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointFromEntry_PrefersNonLoopbackIPv4(t *testing.T) {
	ep, ok := EndpointFromEntry(ServiceEntry{
		Instance: "zipforge",
		HostName: "host.local.",
		Port:     8080,
		IPv4:     []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("192.168.1.10")},
		IPv6:     []net.IP{net.ParseIP("::1")},
		Text:     []string{"backend=7z", "version=1"},
	})
	require.True(t, ok)
	assert.Equal(t, "http://192.168.1.10:8080", ep.URL)
	assert.Equal(t, map[string]string{"backend": "7z", "version": "1"}, ep.Meta)
}

func TestEndpointFromEntry_UsesBracketedIPv6(t *testing.T) {
	ep, ok := EndpointFromEntry(ServiceEntry{
		Port: 8080,
		IPv6: []net.IP{net.ParseIP("fd00::10")},
	})
	require.True(t, ok)
	assert.Equal(t, "http://[fd00::10]:8080", ep.URL)
}

func TestEndpointFromEntry_FallsBackToLoopback(t *testing.T) {
	ep, ok := EndpointFromEntry(ServiceEntry{
		Port: 9000,
		IPv4: []net.IP{net.ParseIP("0.0.0.0"), net.ParseIP("127.0.0.1")},
	})
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:9000", ep.URL)
}

func TestEndpointFromEntry_InvalidEntry(t *testing.T) {
	_, ok := EndpointFromEntry(ServiceEntry{Port: 0})
	assert.False(t, ok)
	_, ok = EndpointFromEntry(ServiceEntry{Port: 8080})
	assert.False(t, ok, "no address")
	_, ok = EndpointFromEntry(ServiceEntry{Port: 70000, IPv4: []net.IP{net.ParseIP("10.0.0.1")}})
	assert.False(t, ok, "port out of range")
}

func TestTextRecords(t *testing.T) {
	recs := TextRecords(map[string]string{"version": "1", "backend": "native", " ": "x"})
	assert.Equal(t, []string{"backend=native", "version=1"}, recs)
	assert.Equal(t, map[string]string{"backend": "native", "version": "1"}, ParseText(recs))
	assert.Equal(t, map[string]string{"flag": ""}, ParseText([]string{"flag", "=orphan"}))
	assert.Nil(t, ParseText(nil))
}

func TestParseListenPort(t *testing.T) {
	port, err := ParseListenPort(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	for _, bad := range []string{"", "8080", ":0", ":http", ":99999"} {
		_, err := ParseListenPort(bad)
		assert.Error(t, err, bad)
	}
}

func TestDiscoverWithBrowser_FindsEndpoint(t *testing.T) {
	fb := &fakeBrowser{entries: []ServiceEntry{{
		Instance: "zipforge",
		Port:     8080,
		IPv4:     []net.IP{net.ParseIP("10.0.0.5")},
	}}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ep, err := DiscoverWithBrowser(ctx, fb, Query{})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:8080", ep.URL)
	assert.Equal(t, DefaultServiceName, fb.service)
	assert.Equal(t, DefaultDomain, fb.domain)
}

func TestDiscoverWithBrowser_FiltersInstance(t *testing.T) {
	fb := &fakeBrowser{entries: []ServiceEntry{
		{Instance: "other", Port: 8080, IPv4: []net.IP{net.ParseIP("10.0.0.5")}},
		{Instance: "Archive-Box", Port: 8081, IPv4: []net.IP{net.ParseIP("10.0.0.6")}},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ep, err := DiscoverWithBrowser(ctx, fb, Query{Instance: "archive-box"})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.6:8081", ep.URL)
}

func TestDiscoverWithBrowser_SkipsUnusableEntries(t *testing.T) {
	fb := &fakeBrowser{entries: []ServiceEntry{
		{Instance: "noaddr", Port: 8080},
		{Instance: "good", Port: 8080, IPv4: []net.IP{net.ParseIP("10.0.0.7")}},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ep, err := DiscoverWithBrowser(ctx, fb, Query{})
	require.NoError(t, err)
	assert.Equal(t, "good", ep.Instance)
}

func TestDiscoverWithBrowser_NoResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := DiscoverWithBrowser(ctx, &fakeBrowser{}, Query{})
	assert.ErrorIs(t, err, ErrNoServiceFound)
}

func TestDiscoverWithBrowser_BrowseError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := DiscoverWithBrowser(ctx, &fakeBrowser{err: errors.New("boom")}, Query{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoServiceFound)
	assert.Contains(t, err.Error(), "boom")
}

func TestDiscoverWithBrowser_BrowseReturnsImmediatelyStillFindsEntry(t *testing.T) {
	fb := &fakeBrowser{
		asyncEntries: []ServiceEntry{{
			Instance: "zipforge",
			Port:     8080,
			IPv4:     []net.IP{net.ParseIP("10.0.0.11")},
		}},
		asyncDelay: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ep, err := DiscoverWithBrowser(ctx, fb, Query{})
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.11:8080", ep.URL)
}

func TestDiscoverWithBrowser_RequiresBrowser(t *testing.T) {
	_, err := DiscoverWithBrowser(context.Background(), nil, Query{})
	assert.Error(t, err)
}

type fakeBrowser struct {
	entries      []ServiceEntry
	asyncEntries []ServiceEntry
	asyncDelay   time.Duration
	err          error

	service string
	domain  string
}

func (f *fakeBrowser) Browse(ctx context.Context, service, domain string, entries chan<- ServiceEntry) error {
	f.service, f.domain = service, domain
	if f.err != nil {
		return f.err
	}
	for _, entry := range f.entries {
		select {
		case <-ctx.Done():
			return nil
		case entries <- entry:
		}
	}
	if len(f.asyncEntries) > 0 {
		go func() {
			timer := time.NewTimer(f.asyncDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			for _, entry := range f.asyncEntries {
				select {
				case <-ctx.Done():
					return
				case entries <- entry:
				}
			}
		}()
		return nil
	}
	<-ctx.Done()
	return nil
}
