package protocol

import "time"

// ReserveRequest is the inbound Reserve message (spec.md §6).
type ReserveRequest struct {
	Header              Header
	ConnectionID         string // optional; empty on first reserve of a Connection
	GlobalReservationID  string
	Description          string
	Criteria             Criteria
}

// ReserveCommitRequest, ReserveAbortRequest, ProvisionRequest,
// ReleaseRequest, and TerminateRequest all carry only a Header and a
// ConnectionID; NSI-CS 2.1 resolves the rest from provider-side state.
type ReserveCommitRequest struct {
	Header       Header
	ConnectionID string
}

type ReserveAbortRequest struct {
	Header       Header
	ConnectionID string
}

type ProvisionRequest struct {
	Header       Header
	ConnectionID string
}

type ReleaseRequest struct {
	Header       Header
	ConnectionID string
}

type TerminateRequest struct {
	Header       Header
	ConnectionID string
}

// QueryRequest backs QuerySummary / QuerySummarySync (spec.md §4.8, §6).
type QueryRequest struct {
	Header              Header
	ConnectionID         []string
	GlobalReservationID  []string
	IfModifiedSince      time.Time
}

// QueryNotificationRequest backs QueryNotification.
type QueryNotificationRequest struct {
	Header              Header
	ConnectionID         string
	StartNotificationID  int64
	EndNotificationID    int64
}

// QueryResultRequest backs QueryResult.
type QueryResultRequest struct {
	Header       Header
	ConnectionID string
	StartResultID int64
	EndResultID   int64
}

// ConnectionStates is the snapshot of all four state machines returned in
// query results and confirmations.
type ConnectionStates struct {
	ReservationState string
	ProvisioningState string
	LifecycleState   string
	DataPlaneActive  bool
}

// --- Outbound (requester) messages (spec.md §6) ---

// ConfirmedResponse is the common shape of *Confirmed messages: they all
// carry a Header, the ConnectionID, and the resulting state snapshot.
type ConfirmedResponse struct {
	Header       Header
	ConnectionID string
	States       ConnectionStates
}

// FailedResponse is the common shape of *Failed messages.
type FailedResponse struct {
	Header       Header
	ConnectionID string
	States       ConnectionStates
	Error        *NsiError
}

// ReserveConfirmedResponse additionally carries the assigned ConnectionID
// and reservation criteria, since Reserve is the only operation that may
// assign a new ConnectionID.
type ReserveConfirmedResponse struct {
	Header              Header
	ConnectionID         string
	GlobalReservationID  string
	Criteria             Criteria
	States               ConnectionStates
}

// ReserveTimeoutNotification is emitted when the reserve hold timer fires.
type ReserveTimeoutNotification struct {
	Header         Header
	ConnectionID   string
	NotificationID int64
	Timestamp      time.Time
	TimeoutValue   int
}

// ErrorEventNotification carries an asynchronous failure unrelated to a
// specific request/response pair (e.g. forced end, activation failure).
type ErrorEventNotification struct {
	Header         Header
	ConnectionID   string
	NotificationID int64
	Timestamp      time.Time
	Error          *NsiError
}

// DataPlaneStateChangeNotification reports a DPSM transition.
type DataPlaneStateChangeNotification struct {
	Header         Header
	ConnectionID   string
	NotificationID int64
	Timestamp      time.Time
	Active         bool
	CircuitID      string
}

// MessageDeliveryTimeoutNotification is emitted when a requester callback
// exhausts its retry budget (spec.md §4.6, §8 scenario 6).
type MessageDeliveryTimeoutNotification struct {
	Header         Header
	ConnectionID   string
	NotificationID int64
	Timestamp      time.Time
	CorrelationID  string
}

// QuerySummaryConfirmedResponse backs the QuerySummaryConfirmed callback.
type QuerySummaryConfirmedResponse struct {
	Header       Header
	LastModified time.Time
	Reservations []QueryResultEntry
}

// QueryResultEntry is one reservation entry of a QuerySummaryConfirmed
// response (spec.md §4.8).
type QueryResultEntry struct {
	ConnectionID        string
	RequesterNSA        string
	GlobalReservationID string
	Description         string
	States              ConnectionStates
	Criteria            Criteria
	NotificationID      int64
	ResultID            int64
}

// QueryNotificationConfirmedResponse backs the QueryNotificationConfirmed
// callback.
type QueryNotificationConfirmedResponse struct {
	Header        Header
	Notifications []NotificationEntry
}

// NotificationEntry is one row of the append-only notification log
// (spec.md §3).
type NotificationEntry struct {
	NotificationID int64
	ConnectionID   string
	Timestamp      time.Time
	Kind           NotificationKind
	Payload        []byte
}

// NotificationKind enumerates the append-only Notification kinds
// (spec.md §3).
type NotificationKind string

const (
	KindReserveTimeout        NotificationKind = "ReserveTimeout"
	KindErrorEvent            NotificationKind = "ErrorEvent"
	KindMessageDeliveryTimeout NotificationKind = "MessageDeliveryTimeout"
	KindDataPlaneStateChange  NotificationKind = "DataPlaneStateChange"
)

// QueryResultConfirmedResponse backs the QueryResultConfirmed callback.
type QueryResultConfirmedResponse struct {
	Header  Header
	Results []ResultEntry
}

// ResultEntry is one row of the append-only result log (spec.md §3).
type ResultEntry struct {
	ResultID      int64
	ConnectionID  string
	Timestamp     time.Time
	CorrelationID string
	Outcome       []byte
}
