package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"go.nsi.dev/provider/jobqueue"
	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/nrm/yamlstub"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store/rocksdb"
	"go.nsi.dev/provider/timer"
	"go.nsi.dev/provider/topology"
)

type capturingSender struct {
	mu    sync.Mutex
	calls []capturedSend
}

type capturedSend struct {
	method string
	body   []byte
}

func (c *capturingSender) Send(ctx context.Context, replyTo, method string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, capturedSend{method: method, body: payload})
	return nil
}

func (c *capturingSender) find(method string) (capturedSend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.method == method {
			return call, true
		}
	}
	return capturedSend{}, false
}

func newTestProcessor(t *testing.T) (*Processor, *capturingSender, *yamlstub.Backend) {
	t.Helper()
	var s, err = rocksdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	var log = logrus.NewEntry(logrus.New())
	var engine = jobqueue.NewEngine(s, 4, log)
	var sender = &capturingSender{}
	var req = requester.New(engine, sender, s, requester.DefaultConfig(), log)
	var tm = timer.New(engine, s, log)

	var stps = []topology.STP{
		{StpID: "stp:a", PortID: "stp:a", VlanRanges: []topology.VlanRange{{Low: 100, High: 200}}, BandwidthMbps: 1000},
		{StpID: "stp:b", PortID: "stp:b", VlanRanges: []topology.VlanRange{{Low: 100, High: 200}}, BandwidthMbps: 1000},
	}
	var backend = yamlstub.New(stps, log)
	var _ nrm.Backend = backend

	var p = &Processor{
		CS:          s,
		JS:          s,
		Engine:      engine,
		Backend:     backend,
		Topology:    topology.NewCache(stps),
		Requester:   req,
		Timers:      tm,
		Log:         log,
		HoldTimeout: time.Minute,
	}
	p.Register()

	var ctx, cancel = context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, engine.Recover(ctx))
	engine.Start(ctx)
	t.Cleanup(engine.Stop)

	return p, sender, backend
}

func reserveReq() protocol.ReserveRequest {
	return protocol.ReserveRequest{
		Header: protocol.Header{
			CorrelationID: "corr-1",
			RequesterNSA:  "urn:ogf:network:requester",
			ProviderNSA:   "urn:ogf:network:provider",
		},
		Criteria: protocol.Criteria{
			CapacityMbps: 100,
			SrcSTP:       protocol.STP{PortID: "stp:a", Vlan: 150},
			DstSTP:       protocol.STP{PortID: "stp:b", Vlan: 150},
		},
	}
}

func TestHandleReserveDeliversConfirmation(t *testing.T) {
	var p, sender, _ = newTestProcessor(t)

	var connectionID, err = p.HandleReserve(context.Background(), reserveReq())
	require.NoError(t, err)
	require.NotEmpty(t, connectionID)

	require.Eventually(t, func() bool {
		var _, ok = sender.find("reserveConfirmed")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	var conn, lerr = p.CS.Load(connectionID)
	require.NoError(t, lerr)
	require.NotEmpty(t, conn.CircuitID)
}

func TestHandleReserveRejectsUnknownSTP(t *testing.T) {
	var p, _, _ = newTestProcessor(t)

	var req = reserveReq()
	req.Criteria.DstSTP.PortID = "stp:does-not-exist"

	var _, err = p.HandleReserve(context.Background(), req)
	require.Error(t, err)
}

func TestHandleReserveDeliversFailureOnBackendVlanMismatch(t *testing.T) {
	var p, sender, _ = newTestProcessor(t)

	var req = reserveReq()
	req.Criteria.DstSTP.Vlan = 151 // still in-range, but mismatches src -- yamlstub's Reserve rejects it

	var connectionID, err = p.HandleReserve(context.Background(), req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var _, ok = sender.find("reserveFailed")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	var conn, lerr = p.CS.Load(connectionID)
	require.NoError(t, lerr)
	require.Empty(t, conn.CircuitID)
}
