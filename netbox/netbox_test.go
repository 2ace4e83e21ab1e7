package netbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"netops/cache"
	"netops/config"
)

const devicesJSON = `{"count":2,"results":[
 {"id":1,"name":"sw1","primary_ip4":{"address":"10.0.0.1/24"},
  "device_type":{"model":"C9300","manufacturer":{"name":"Cisco"}},
  "platform":{"slug":"ios-xe","name":"IOS XE"},"site":{"id":3,"name":"HQ"}},
 {"id":2,"name":"sw2","primary_ip4":null,"device_type":{"model":"EX2300","manufacturer":null},
  "platform":{"name":"junos"},"site":null}
]}`

type fakeNetBox struct {
	t        *testing.T
	requests atomic.Int32
	lastAuth atomic.Value
	// limits holds the last "limit" parameter seen per path
	limits sync.Map
}

func (f *fakeNetBox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	f.lastAuth.Store(r.Header.Get("Authorization"))
	q := r.URL.Query()
	f.limits.Store(r.URL.Path, q.Get("limit"))
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/dcim/devices/":
		switch {
		case q.Get("name") == "sw1":
			_, _ = w.Write([]byte(`{"results":[` + gjson.Get(devicesJSON, "results.0").Raw + `]}`))
		case q.Get("name") == "noplat":
			_, _ = w.Write([]byte(`{"results":[{"id":9,"name":"noplat","platform":null}]}`))
		case q.Get("name") == "weird":
			_, _ = w.Write([]byte(`{"results":[{"id":8,"name":"weird","platform":{"slug":"vyos"}}]}`))
		case q.Get("name") != "":
			_, _ = w.Write([]byte(`{"results":[]}`))
		case q.Get("site_id__in") != "":
			assert.Equal(f.t, "3,4", q.Get("site_id__in"))
			_, _ = w.Write([]byte(devicesJSON))
		default:
			assert.Equal(f.t, "100", q.Get("limit"))
			_, _ = w.Write([]byte(devicesJSON))
		}
	case "/api/dcim/regions/":
		if q.Get("parent_id") != "" {
			_, _ = w.Write([]byte(`{"results":[{"id":11,"name":"Child","parent":{"id":1}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":1,"name":"EU","parent":null},{"id":11,"name":"Child","parent":{"id":1}},{"id":2,"name":"US"}]}`))
	case "/api/dcim/sites/":
		switch q.Get("region_id") {
		case "1":
			_, _ = w.Write([]byte(`{"results":[{"id":3,"name":"HQ"},{"id":4,"name":"DC"}]}`))
		case "":
			_, _ = w.Write([]byte(`{"results":[{"id":3,"name":"HQ"},{"id":4,"name":"DC"},{"id":5,"name":"Lab"}]}`))
		default:
			_, _ = w.Write([]byte(`{"results":[]}`))
		}
	case "/api/dcim/interfaces/":
		if q.Get("name") == "Gi1/0/1" && q.Get("device") == "sw1" {
			_, _ = w.Write([]byte(`{"results":[{"id":77,"name":"Gi1/0/1","description":" uplink ","enabled":false,
				"mode":{"value":"tagged","label":"Tagged"},"untagged_vlan":{"vid":99},
				"tagged_vlans":[{"vid":10},{"vid":20}],"type":{"label":"1000BASE-T"}}]}`))
			return
		}
		if q.Get("device_id") == "1" {
			_, _ = w.Write([]byte(`{"results":[{"id":77,"name":"Gi1/0/1","type":{"label":"1000BASE-T"},"description":"uplink","mac_address":"AA:BB:CC:00:11:22","enabled":false},{"id":78,"name":"Gi1/0/2","type":null}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	case "/api/ipam/ip-addresses/":
		assert.Equal(f.t, "50", q.Get("limit"))
		_, _ = w.Write([]byte(`{"results":[{"address":"10.1.1.1/30"},{"address":"2001:db8::1/64"}]}`))
	case "/api/users/users/":
		_, _ = w.Write([]byte(`{"results":[{"username":"admin"},{"username":"noc"}]}`))
	case "/api/status/":
		_, _ = w.Write([]byte(`{"netbox-version":"4.1"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}
}

func newTestClient(t *testing.T) (*Client, *fakeNetBox) {
	t.Helper()
	fake := &fakeNetBox{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "tok123", 5*time.Second), fake
}

func TestClientSendsToken(t *testing.T) {
	client, fake := newTestClient(t)
	_, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Token tok123", fake.lastAuth.Load())
}

func TestGetDeviceByName(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	dev, err := client.GetDeviceByName(ctx, "sw1")
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, int64(1), dev.Get("id").Int())

	dev, err = client.GetDeviceByName(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, dev)

	_, err = client.RequireDevice(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListCallsRequestOnePage(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	limit := func(path string) string {
		v, ok := fake.limits.Load(path)
		require.True(t, ok, "no request to %s", path)
		return v.(string)
	}

	_, err := client.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", limit("/api/users/users/"))

	_, err = client.ListRegions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", limit("/api/dcim/regions/"))

	_, err = client.ListSubregions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "100", limit("/api/dcim/regions/"))

	_, err = client.ListSites(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "100", limit("/api/dcim/sites/"))

	_, err = client.ListInterfacesForDevice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "100", limit("/api/dcim/interfaces/"))
}

func TestListRegionsKeepsTopLevel(t *testing.T) {
	client, _ := newTestClient(t)
	regions, err := client.ListRegions(context.Background())
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "EU", regions[0].Get("name").String())
	assert.Equal(t, "US", regions[1].Get("name").String())

	subs, err := client.ListSubregions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestListSitesOptionalRegion(t *testing.T) {
	client, _ := newTestClient(t)
	all, err := client.ListSites(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	scoped, err := client.ListSites(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, scoped, 2)
}

func TestListDevicesByRegion(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	devices, err := client.ListDevicesByRegion(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	before := fake.requests.Load()
	devices, err = client.ListDevicesByRegion(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Equal(t, before+1, fake.requests.Load(), "no device query for a region without sites")
}

func TestGetInterfaceAndIPs(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	raw, err := client.GetInterface(ctx, "sw1", "Gi1/0/1")
	require.NoError(t, err)
	iface := ParseInterface(raw)
	assert.Equal(t, Interface{
		ID:          77,
		Name:        "Gi1/0/1",
		Description: "uplink",
		Mode:        "tagged",
		Enabled:     false,
		UntaggedVID: 99,
		TaggedVIDs:  []int64{10, 20},
	}, iface)

	_, err = client.GetInterface(ctx, "sw1", "Gi9/9/9")
	assert.True(t, errors.Is(err, ErrNotFound))

	ips, err := client.GetInterfaceIPs(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1.1.1/30", "2001:db8::1/64"}, IPAddresses(ips))
}

func TestAPIErrorAndTransportError(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.get(context.Background(), "/api/nope/", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.True(t, IsUpstream(err))

	dead := NewClient("http://127.0.0.1:1", "", time.Second)
	_, err = dead.ListDevices(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, IsUpstream(err))
	assert.False(t, IsUpstream(errors.New("other")))
}

func TestSummaries(t *testing.T) {
	devices := gjson.Get(devicesJSON, "results").Array()

	s1 := SummarizeDevice(devices[0])
	assert.Equal(t, "sw1", s1.Name)
	assert.Equal(t, "10.0.0.1", s1.IP)
	assert.Equal(t, "Cisco", *s1.Manufacturer)
	assert.Equal(t, "ios-xe", *s1.Platform)
	assert.Equal(t, "C9300", *s1.Model)

	s2 := SummarizeDevice(devices[1])
	assert.Equal(t, "", s2.IP)
	assert.Nil(t, s2.Manufacturer)
	assert.Equal(t, "junos", *s2.Platform, "falls back to platform name")

	raw, err := json.Marshal(s2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"sw2","ip":"","manufacturer":null,"platform":"junos","model":"EX2300"}`, string(raw))

	site := SummarizeDeviceSite(devices[0])
	assert.Equal(t, "HQ", *site.Site)
	assert.Nil(t, SummarizeDeviceSite(devices[1]).Site)

	ifaces := gjson.Parse(`[{"name":"Gi1","type":{"label":"SFP+"},"description":"x","mac_address":"aa","enabled":false},{"name":"Gi2"}]`).Array()
	i1 := SummarizeInterface(ifaces[0])
	assert.Equal(t, "SFP+", *i1.Type)
	assert.False(t, i1.Enabled)
	i2 := SummarizeInterface(ifaces[1])
	assert.Nil(t, i2.Type)
	assert.True(t, i2.Enabled, "enabled defaults to true")
}

func TestParseInterfaceStringMode(t *testing.T) {
	iface := ParseInterface(gjson.Parse(`{"id":1,"name":"Gi1","mode":"Access","untagged_vlan":{"vid":30}}`))
	assert.Equal(t, "access", iface.Mode)
	assert.Equal(t, int64(30), iface.UntaggedVID)
	assert.True(t, iface.Enabled)
	assert.Empty(t, iface.TaggedVIDs)

	none := ParseInterface(gjson.Parse(`{"id":2,"name":"Gi2","mode":null}`))
	assert.Equal(t, "", none.Mode)
}

func TestDriversForDevice(t *testing.T) {
	client, fake := newTestClient(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	resolver := NewResolver(client, map[string]config.PlatformDrivers{
		"VyOS": {Netmiko: "vyos"},
	}, cache.New(rdb), time.Minute)
	ctx := context.Background()

	drivers, err := resolver.DriversForDevice(ctx, "sw1")
	require.NoError(t, err)
	assert.Equal(t, DeviceDrivers{Platform: "ios-xe", NetmikoDeviceType: "cisco_ios", NetconfDeviceName: "iosxe"}, drivers)

	before := fake.requests.Load()
	cached, err := resolver.DriversForDevice(ctx, "sw1")
	require.NoError(t, err)
	assert.Equal(t, drivers, cached)
	assert.Equal(t, before, fake.requests.Load(), "second lookup served from cache")

	_, err = resolver.DriversForDevice(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = resolver.DriversForDevice(ctx, "noplat")
	assert.True(t, errors.Is(err, ErrNoPlatform))

	weird, err := resolver.DriversForDevice(ctx, "weird")
	require.NoError(t, err, "override adds vyos")
	assert.Equal(t, "vyos", weird.NetmikoDeviceType)

	_, err = resolver.DriversForPlatform("sros")
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))

	assert.Contains(t, resolver.Supported(), "vyos")
	assert.Contains(t, resolver.Supported(), "eos")
}

func TestPing(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}
