package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netops/device/devicetest"
	"netops/netbox"
	"netops/netbox/netboxtest"
	"netops/services"
)

const runningAccess = `Building configuration...

Current configuration : 96 bytes
!
interface GigabitEthernet1/0/1
 description uplink
 switchport access vlan 10
 switchport mode access
 spanning-tree portfast
end
`

const showInterfaceUp = `GigabitEthernet1/0/1 is up, line protocol is up (connected)
  Hardware is Gigabit Ethernet, address is 5254.0012.3401 (bia 5254.0012.3401)
  MTU 1500 bytes, BW 1000000 Kbit/sec, DLY 10 usec,
  Full-duplex, 1000Mb/s, media type is 10/100/1000BaseTX
`

func newNetBox(t *testing.T) *netboxtest.Server {
	nb := netboxtest.New(t)
	nb.AddDevice(1, "sw1", "ios-xe", "10.0.0.1/24", 3)
	nb.AddDevice(2, "fw1", "", "", 0)
	nb.AddInterface(1, "sw1", netboxtest.Object{
		"id":            int64(77),
		"name":          "Gi1/0/1",
		"description":   "uplink",
		"enabled":       true,
		"mode":          netboxtest.Object{"value": "access", "label": "Access"},
		"untagged_vlan": netboxtest.Object{"vid": 10},
	})
	nb.AddInterface(1, "sw1", netboxtest.Object{
		"id":           int64(78),
		"name":         "Gi1/0/48",
		"description":  "trunk to core",
		"enabled":      true,
		"mode":         "tagged",
		"tagged_vlans": []netboxtest.Object{{"vid": 10}, {"vid": 20}},
	})
	return nb
}

func newService(t *testing.T, nb *netboxtest.Server, cli *devicetest.CLI) (*services.DeviceService, *devicetest.Dials) {
	t.Helper()
	conn, dials := devicetest.Connector(cli, nil)
	resolver := netbox.NewResolver(netbox.NewClient(nb.URL, "tok", time.Second), nil, nil, 0)
	return services.NewDeviceService(resolver, conn, "envuser", "envpass"), dials
}

func target() services.Target {
	return services.Target{DeviceName: "sw1", Host: "10.0.0.1"}
}

func TestCompareInterfaceInSync(t *testing.T) {
	cli := devicetest.NewCLI(map[string]string{
		"show running-config interface Gi1/0/1": runningAccess,
		"show interface Gi1/0/1":                showInterfaceUp,
	})
	svc, dials := newService(t, newNetBox(t), cli)

	cmp, err := svc.CompareInterface(context.Background(), target(), "Gi1/0/1")
	require.NoError(t, err)

	assert.Equal(t, "ios-xe", cmp.Platform)
	assert.True(t, cmp.Config.InSync)
	assert.Empty(t, cmp.Config.Diff)
	assert.Equal(t, []string{
		"description uplink",
		"switchport access vlan 10",
		"switchport mode access",
	}, cmp.Config.IntendedLines)
	require.NotNil(t, cmp.State.DeviceAdminUp)
	assert.True(t, *cmp.State.DeviceAdminUp)
	assert.True(t, cmp.State.SoTEnabled)
	assert.True(t, cmp.InSync)
	assert.True(t, cli.Closed)

	require.Len(t, dials.Targets, 1)
	assert.Equal(t, "envuser", dials.Targets[0].Username)
	assert.Equal(t, "envpass", dials.Targets[0].Password)
}

func TestCompareInterfaceDrift(t *testing.T) {
	cli := devicetest.NewCLI(map[string]string{
		"show running-config interface Gi1/0/1": "interface Gi1/0/1\n description old\n switchport mode access\n switchport access vlan 20\n",
	})
	cli.Errors["show interface Gi1/0/1"] = errors.New("read timeout")
	svc, _ := newService(t, newNetBox(t), cli)

	cmp, err := svc.CompareInterface(context.Background(), target(), "Gi1/0/1")
	require.NoError(t, err)

	assert.False(t, cmp.Config.InSync)
	assert.False(t, cmp.InSync)
	assert.Contains(t, cmp.Config.Diff, "-description old")
	assert.Contains(t, cmp.Config.Diff, "+description uplink")

	assert.Nil(t, cmp.State.DeviceAdminUp)
	assert.True(t, cmp.State.InSync)
	assert.Equal(t, map[string]string{"error": "read timeout"}, cmp.State.Raw)
}

func TestCompareInterfaceErrors(t *testing.T) {
	nb := newNetBox(t)
	svc, _ := newService(t, nb, devicetest.NewCLI(nil))
	ctx := context.Background()

	_, err := svc.CompareInterface(ctx, services.Target{Host: "10.0.0.1"}, "Gi1/0/1")
	assert.ErrorIs(t, err, services.ErrMissingField)

	_, err = svc.CompareInterface(ctx, target(), "")
	assert.ErrorIs(t, err, services.ErrMissingField)

	_, err = svc.CompareInterface(ctx, services.Target{DeviceName: "ghost", Host: "10.0.0.9"}, "Gi1/0/1")
	assert.ErrorIs(t, err, netbox.ErrNotFound)

	_, err = svc.CompareInterface(ctx, services.Target{DeviceName: "fw1", Host: "10.0.0.9"}, "Gi1/0/1")
	assert.ErrorIs(t, err, netbox.ErrNoPlatform)

	_, err = svc.CompareInterface(ctx, target(), "Gi9/9/9")
	assert.ErrorIs(t, err, netbox.ErrNotFound)

	nb.Fail = http.StatusBadGateway
	_, err = svc.CompareInterface(ctx, target(), "Gi1/0/1")
	assert.True(t, netbox.IsUpstream(err))
}

func TestApplyMerge(t *testing.T) {
	cli := devicetest.NewCLI(nil)
	cli.ConfigOutput = "sw1(config-if)#"
	svc, _ := newService(t, newNetBox(t), cli)

	res, err := svc.ApplyMerge(context.Background(), target(), "Gi1/0/1")
	require.NoError(t, err)

	assert.Equal(t, "APPLIED_MERGE", res.Status)
	assert.Equal(t, "sw1(config-if)#", res.Output)
	expected := []string{
		"interface Gi1/0/1",
		"description uplink",
		"no shutdown",
		"switchport",
		"switchport mode access",
		"switchport access vlan 10",
	}
	assert.Equal(t, expected, res.Commands)
	require.Len(t, cli.ConfigSets, 1)
	assert.Equal(t, expected, cli.ConfigSets[0])
}

func TestConfigureInterfaceFromNetBox(t *testing.T) {
	cli := devicetest.NewCLI(nil)
	cli.ConfigOutput = "done"
	svc, _ := newService(t, newNetBox(t), cli)

	out, err := svc.ConfigureInterface(context.Background(), target(), "Gi1/0/48")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	require.Len(t, cli.ConfigSets, 1)
	assert.Equal(t, []string{
		"interface Gi1/0/48",
		"description trunk to core",
		"switchport mode trunk",
		"switchport trunk allowed vlan 10,20",
		"no shutdown",
	}, cli.ConfigSets[0])
}

func TestConfigureInterfaceValidatesBeforeNetBox(t *testing.T) {
	nb := newNetBox(t)
	cli := devicetest.NewCLI(nil)
	svc, dials := newService(t, nb, cli)
	ctx := context.Background()

	_, err := svc.ConfigureInterface(ctx, services.Target{Host: "10.0.0.1"}, "Gi1/0/48")
	assert.ErrorIs(t, err, services.ErrMissingField)
	_, err = svc.ConfigureInterface(ctx, services.Target{DeviceName: "sw1", Host: "  "}, "Gi1/0/48")
	assert.ErrorIs(t, err, services.ErrMissingField)

	assert.Zero(t, nb.TotalRequests())
	assert.Zero(t, dials.CLI)
	assert.Empty(t, cli.ConfigSets)
}

func TestCredentialsFallback(t *testing.T) {
	svc, _ := newService(t, newNetBox(t), devicetest.NewCLI(nil))

	user, pass := svc.Credentials("  ", "")
	assert.Equal(t, "envuser", user)
	assert.Equal(t, "envpass", pass)

	user, pass = svc.Credentials(" alice ", " pw ")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "pw", pass)
}
