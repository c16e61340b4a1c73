// Package protocol defines the message contracts carried by the NSI-CS 2.1
// Connection Provider and Connection Requester gRPC services (spec.md §6).
// The services themselves are out of scope (spec.md §1); this package
// exists only so the job engine, message processors, and requester client
// can agree on a common wire shape, in the manner that dwarri-gazette's
// broker/protocol package gives the rest of that codebase a common
// pb.JournalSpec / pb.Header vocabulary.
package protocol

import "time"

// Header is carried by every inbound and outbound NSI message.
type Header struct {
	ProtocolVersion           string
	CorrelationID             string
	RequesterNSA              string
	ProviderNSA               string
	ReplyTo                   string
	SessionSecurityAttributes []byte
}

// Validate reports whether the Header is well-formed. It does not
// authenticate or authorize the request -- spec.md's Non-goals exclude
// security/authorisation beyond carrying the header.
func (h Header) Validate() error {
	if h.CorrelationID == "" {
		return NewValidationError("missing correlation_id")
	}
	if h.RequesterNSA == "" {
		return NewValidationError("missing requester_nsa")
	}
	if h.ProviderNSA == "" {
		return NewValidationError("missing provider_nsa")
	}
	return nil
}

// STP is a Service Termination Point reference as carried on the wire
// (not to be confused with topology.STP, the resolved topology record).
type STP struct {
	PortID string
	Vlan   int
}

// Schedule is the requested reservation window. A nil StartTime means
// "as soon as committed"; a nil EndTime means "forever".
type Schedule struct {
	StartTime *time.Time
	EndTime   *time.Time
}

// Criteria is the P2P service criteria carried on a Reserve request.
type Criteria struct {
	Schedule       Schedule
	ServiceType    string
	SrcSTP         STP
	DstSTP         STP
	CapacityMbps   int
	Directionality string
	Version        int
}
