package yamlstub

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/topology"
)

func testBackend() *Backend {
	return New([]topology.STP{
		{
			StpID:         "urn:ogf:network:stp:a",
			PortID:        "urn:ogf:network:stp:a",
			VlanRanges:    []topology.VlanRange{{Low: 100, High: 200}},
			BandwidthMbps: 1000,
		},
	}, logrus.NewEntry(logrus.New()))
}

func TestReserveRejectsVlanMismatch(t *testing.T) {
	var b = testBackend()
	var _, err = b.Reserve(context.Background(), nrm.ReserveSpec{
		ConnectionID: "c1", SrcVlan: 100, DstVlan: 101,
	})
	require.Error(t, err)
}

func TestReserveAndActivateLifecycle(t *testing.T) {
	var b = testBackend()
	var ctx = context.Background()

	var handle, err = b.Reserve(ctx, nrm.ReserveSpec{ConnectionID: "c1", SrcVlan: 150, DstVlan: 150})
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	require.NoError(t, b.Commit(ctx, handle))
	require.NoError(t, b.Provision(ctx, handle))
	require.NoError(t, b.Activate(ctx, handle))

	b.mu.Lock()
	assert.True(t, b.active[handle])
	b.mu.Unlock()

	require.NoError(t, b.Deactivate(ctx, handle))

	b.mu.Lock()
	assert.False(t, b.active[handle])
	b.mu.Unlock()
}

func TestTopologyReturnsConfiguredSTPsCopy(t *testing.T) {
	var b = testBackend()
	var stps, err = b.Topology(context.Background())
	require.NoError(t, err)
	require.Len(t, stps, 1)
	assert.Equal(t, "urn:ogf:network:stp:a", stps[0].PortID)
}
