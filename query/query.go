// Package query implements the Query Engine (C8): read-only lookups over
// the Connection Store that take no per-connection lock (spec.md §4.8),
// since they never mutate state and a reader racing a writer simply sees
// either the old or the new committed record -- never a torn one, because
// package store's writes are single key puts.
package query

import (
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/store"
)

// Engine answers QuerySummary, QueryRecursive, QueryNotification, and
// QueryResult requests.
type Engine struct {
	CS store.ConnectionStore
}

// Summary answers QuerySummary / QuerySummarySync (spec.md §4.8, §6):
// every Connection matching the (connection_id, global_reservation_id)
// filter, excluding ReserveChecking/ReserveFailed, modified after
// if_modified_since.
func (e *Engine) Summary(req protocol.QueryRequest) ([]protocol.QueryResultEntry, error) {
	var conns, err = e.CS.QuerySummary(req.ConnectionID, req.GlobalReservationID, req.IfModifiedSince.UnixNano())
	if err != nil {
		return nil, err
	}
	var out = make([]protocol.QueryResultEntry, 0, len(conns))
	for _, c := range conns {
		out = append(out, e.toEntry(c))
	}
	return out, nil
}

// Recursive answers QueryRecursive: spec.md's Non-goals exclude
// implementing multi-domain recursive forwarding, but the provider still
// must accept the request and return its own local Summary view as the
// base case of that recursion (the forwarding contract itself -- fanning
// the request out to uPA children -- is the excluded part).
func (e *Engine) Recursive(req protocol.QueryRequest) ([]protocol.QueryResultEntry, error) {
	return e.Summary(req)
}

// Notification answers QueryNotification: the connection's notification
// log in the requested [start, end] range (spec.md §4.8).
func (e *Engine) Notification(req protocol.QueryNotificationRequest) ([]protocol.NotificationEntry, error) {
	var notifs, err = e.CS.ListNotifications(req.ConnectionID, req.StartNotificationID, req.EndNotificationID)
	if err != nil {
		return nil, err
	}
	var out = make([]protocol.NotificationEntry, 0, len(notifs))
	for _, n := range notifs {
		out = append(out, protocol.NotificationEntry{
			NotificationID: n.NotificationID,
			ConnectionID:   n.ConnectionID,
			Timestamp:      n.Timestamp,
			Kind:           n.Kind,
			Payload:        n.Payload,
		})
	}
	return out, nil
}

// Result answers QueryResult: the connection's result log in the
// requested [start, end] range (spec.md §4.8).
func (e *Engine) Result(req protocol.QueryResultRequest) ([]protocol.ResultEntry, error) {
	var results, err = e.CS.ListResults(req.ConnectionID, req.StartResultID, req.EndResultID)
	if err != nil {
		return nil, err
	}
	var out = make([]protocol.ResultEntry, 0, len(results))
	for _, r := range results {
		out = append(out, protocol.ResultEntry{
			ResultID:      r.ResultID,
			ConnectionID:  r.ConnectionID,
			Timestamp:     r.Timestamp,
			CorrelationID: r.CorrelationID,
			Outcome:       r.Outcome,
		})
	}
	return out, nil
}

func (e *Engine) toEntry(c store.Connection) protocol.QueryResultEntry {
	return protocol.QueryResultEntry{
		ConnectionID:        c.ConnectionID,
		RequesterNSA:        c.RequesterNSA,
		GlobalReservationID: c.GlobalReservationID,
		Description:         c.Description,
		States: protocol.ConnectionStates{
			ReservationState:  string(c.ReservationState),
			ProvisioningState: string(c.ProvisioningState),
			LifecycleState:    string(c.LifecycleState),
		},
		Criteria: protocol.Criteria{
			CapacityMbps: c.BandwidthMbps,
			Schedule: protocol.Schedule{
				StartTime: c.StartTime,
				EndTime:   c.EndTime,
			},
			SrcSTP: protocol.STP{PortID: c.SrcPortID, Vlan: c.SrcVlan},
			DstSTP: protocol.STP{PortID: c.DstPortID, Vlan: c.DstVlan},
			Version: c.ReservationVersion,
		},
	}
}
