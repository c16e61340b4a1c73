package process

import (
	"encoding/json"

	"go.nsi.dev/provider/nrm"
)

// reservePayload is the nrm_reserve job payload: the full, topology-
// resolved spec, since no CircuitHandle exists yet to look anything up by.
type reservePayload struct {
	ConnectionID  string
	CorrelationID string
	Spec          nrm.ReserveSpec
}

// connPayload is the payload for every other nrm_* job: just the
// connection_id. The backend CircuitHandle and any other state the
// handler needs is read fresh from the store at run time, so a recovered
// job always acts on current data rather than a stale snapshot.
type connPayload struct {
	ConnectionID  string
	CorrelationID string
}

func encode(v interface{}) []byte {
	var b, _ = json.Marshal(v)
	return b
}

func decodeReserve(b []byte) (reservePayload, error) {
	var p reservePayload
	var err = json.Unmarshal(b, &p)
	return p, err
}

func decodeConn(b []byte) (connPayload, error) {
	var p connPayload
	var err = json.Unmarshal(b, &p)
	return p, err
}
