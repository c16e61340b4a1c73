// Package rocksdb implements store.ConnectionStore and store.JobStore atop
// an embedded RocksDB instance, adapting the embedding pattern dwarri-
// gazette's consumer/store-rocksdb package uses for local per-shard state
// (there, *rocks.DB instances are opened per consumer shard and mirrored
// through a recovery log; here, a single *rocks.DB instance durably holds
// every Connection, Notification, Result, and Job record belonging to this
// provider process, with no log-replicated replica set -- the Connection
// Control Core has no notion of a distributed shard to recover).
package rocksdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	rocks "github.com/tecbot/gorocksdb"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/store"
)

const (
	prefixConn     = "conn/"
	prefixNotif    = "notif/"
	prefixNotifSeq = "notifseq/"
	prefixResult   = "result/"
	prefixResultSeq = "resultseq/"
	prefixJob      = "job/"
)

// Store is a RocksDB-backed implementation of store.ConnectionStore and
// store.JobStore.
type Store struct {
	db *rocks.DB
	ro *rocks.ReadOptions
	wo *rocks.WriteOptions

	mu    sync.Mutex // guards the keyed per-connection locks map
	locks map[string]*sync.Mutex
}

// Open opens (creating if necessary) a RocksDB database rooted at dir.
func Open(dir string) (*Store, error) {
	var opts = rocks.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	var db, err = rocks.OpenDb(opts, dir)
	if err != nil {
		return nil, errors.Wrap(err, "opening rocksdb")
	}
	return &Store{
		db:    db,
		ro:    rocks.NewDefaultReadOptions(),
		wo:    rocks.NewDefaultWriteOptions(),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying RocksDB handles.
func (s *Store) Close() {
	s.db.Close()
	s.ro.Destroy()
	s.wo.Destroy()
}

// connLock returns (creating if necessary) the mutex serialising writes to
// connectionID, per spec.md §5's per-connection mutual-exclusion model.
func (s *Store) connLock(connectionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m, ok = s.locks[connectionID]
	if !ok {
		m = new(sync.Mutex)
		s.locks[connectionID] = m
	}
	return m
}

func (s *Store) get(key string, v interface{}) (bool, error) {
	var slice, err = s.db.Get(s.ro, []byte(key))
	if err != nil {
		return false, err
	}
	defer slice.Free()
	if !slice.Exists() {
		return false, nil
	}
	if err := json.Unmarshal(slice.Data(), v); err != nil {
		return false, errors.Wrapf(err, "decoding %s", key)
	}
	return true, nil
}

func (s *Store) put(key string, v interface{}) error {
	var b, err = json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	return s.db.Put(s.wo, []byte(key), b)
}

func connKey(id string) string { return prefixConn + id }
func jobKey(id string) string  { return prefixJob + id }

func notifKey(connID string, id int64) string {
	return fmt.Sprintf("%s%s/%020d", prefixNotif, connID, id)
}
func resultKey(connID string, id int64) string {
	return fmt.Sprintf("%s%s/%020d", prefixResult, connID, id)
}

// Create implements store.ConnectionStore.
func (s *Store) Create(c store.Connection) error {
	var lock = s.connLock(c.ConnectionID)
	lock.Lock()
	defer lock.Unlock()

	var existing store.Connection
	var ok, err = s.get(connKey(c.ConnectionID), &existing)
	if err != nil {
		return err
	}
	if ok {
		return store.ErrDuplicate
	}
	return s.put(connKey(c.ConnectionID), c)
}

// Load implements store.ConnectionStore.
func (s *Store) Load(connectionID string) (store.Connection, error) {
	var c store.Connection
	var ok, err = s.get(connKey(connectionID), &c)
	if err != nil {
		return store.Connection{}, err
	}
	if !ok {
		return store.Connection{}, store.ErrNotFound
	}
	return c, nil
}

// UpdateState implements store.ConnectionStore's compare-and-swap contract
// (see ../cas.go for the design rationale).
func (s *Store) UpdateState(connectionID string, machine store.Machine, expectedPrev, newState string, creating bool) error {
	var lock = s.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	var c store.Connection
	var ok, err = s.get(connKey(connectionID), &c)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}

	var current string
	switch machine {
	case store.MachineRSM:
		current = string(c.ReservationState)
	case store.MachinePSM:
		if !c.PSMExists && !creating {
			return store.ErrNotFound
		}
		current = string(c.ProvisioningState)
	case store.MachineLSM:
		current = string(c.LifecycleState)
	case store.MachineDPSM:
		current = string(c.DataPlaneState)
	default:
		return errors.Errorf("unknown machine %q", machine)
	}

	if current != expectedPrev {
		return store.ErrConflict
	}

	switch machine {
	case store.MachineRSM:
		c.ReservationState = fsm.RState(newState)
	case store.MachinePSM:
		c.ProvisioningState = fsm.PState(newState)
		if creating {
			c.PSMExists = true
		}
	case store.MachineLSM:
		c.LifecycleState = fsm.LState(newState)
	case store.MachineDPSM:
		c.DataPlaneState = fsm.DState(newState)
	}
	c.LastModified = time.Now()

	return s.put(connKey(connectionID), c)
}

// SetCircuitID implements store.ConnectionStore.
func (s *Store) SetCircuitID(connectionID, circuitID string) error {
	var lock = s.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	var c, ok, err = s.loadLocked(connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	c.CircuitID = circuitID
	c.LastModified = time.Now()
	return s.put(connKey(connectionID), c)
}

// SetSchedule implements store.ConnectionStore.
func (s *Store) SetSchedule(connectionID string, sched store.Schedule) error {
	var lock = s.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	var c, ok, err = s.loadLocked(connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if sched.StartTimeUnixNano != 0 {
		var t = time.Unix(0, sched.StartTimeUnixNano)
		c.StartTime = &t
	}
	if sched.EndTimeUnixNano != 0 {
		var t = time.Unix(0, sched.EndTimeUnixNano)
		c.EndTime = &t
	}
	c.LastModified = time.Now()
	return s.put(connKey(connectionID), c)
}

// SetLastModified implements store.ConnectionStore.
func (s *Store) SetLastModified(connectionID string) error {
	var lock = s.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	var c, ok, err = s.loadLocked(connectionID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	c.LastModified = time.Now()
	return s.put(connKey(connectionID), c)
}

func (s *Store) loadLocked(connectionID string) (store.Connection, bool, error) {
	var c store.Connection
	var ok, err = s.get(connKey(connectionID), &c)
	return c, ok, err
}

// AppendNotification implements store.ConnectionStore. notification_id is
// a monotonic sequence per connection, starting at 1 (spec.md §6).
func (s *Store) AppendNotification(connectionID string, kind protocol.NotificationKind, payload []byte) (int64, error) {
	var lock = s.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	var id, err = s.nextSeq(prefixNotifSeq + connectionID)
	if err != nil {
		return 0, err
	}
	var n = store.Notification{
		NotificationID: id,
		ConnectionID:   connectionID,
		Timestamp:      time.Now(),
		Kind:           kind,
		Payload:        payload,
	}
	if err := s.put(notifKey(connectionID, id), n); err != nil {
		return 0, err
	}
	return id, nil
}

// AppendResult implements store.ConnectionStore.
func (s *Store) AppendResult(connectionID, correlationID string, outcome []byte) (int64, error) {
	var lock = s.connLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	var id, err = s.nextSeq(prefixResultSeq + connectionID)
	if err != nil {
		return 0, err
	}
	var r = store.Result{
		ResultID:      id,
		ConnectionID:  connectionID,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Outcome:       outcome,
	}
	if err := s.put(resultKey(connectionID, id), r); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) nextSeq(key string) (int64, error) {
	var slice, err = s.db.Get(s.ro, []byte(key))
	if err != nil {
		return 0, err
	}
	var next int64 = 1
	if slice.Exists() {
		next = int64(binary.BigEndian.Uint64(slice.Data())) + 1
	}
	slice.Free()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	if err := s.db.Put(s.wo, []byte(key), buf[:]); err != nil {
		return 0, err
	}
	return next, nil
}

// ListNotifications implements store.ConnectionStore.
func (s *Store) ListNotifications(connectionID string, startID, endID int64) ([]store.Notification, error) {
	var prefix = []byte(prefixNotif + connectionID + "/")
	var out []store.Notification

	var it = s.db.NewIterator(s.ro)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var n store.Notification
		var key, val = it.Key(), it.Value()
		if err := json.Unmarshal(val.Data(), &n); err != nil {
			key.Free()
			val.Free()
			return nil, errors.Wrap(err, "decoding notification")
		}
		key.Free()
		val.Free()
		if startID > 0 && n.NotificationID < startID {
			continue
		}
		if endID > 0 && n.NotificationID > endID {
			continue
		}
		out = append(out, n)
	}
	return out, it.Err()
}

// ListResults implements store.ConnectionStore.
func (s *Store) ListResults(connectionID string, startID, endID int64) ([]store.Result, error) {
	var prefix = []byte(prefixResult + connectionID + "/")
	var out []store.Result

	var it = s.db.NewIterator(s.ro)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var r store.Result
		var key, val = it.Key(), it.Value()
		if err := json.Unmarshal(val.Data(), &r); err != nil {
			key.Free()
			val.Free()
			return nil, errors.Wrap(err, "decoding result")
		}
		key.Free()
		val.Free()
		if startID > 0 && r.ResultID < startID {
			continue
		}
		if endID > 0 && r.ResultID > endID {
			continue
		}
		out = append(out, r)
	}
	return out, it.Err()
}

// QuerySummary implements store.ConnectionStore (spec.md §4.8).
func (s *Store) QuerySummary(connectionIDs, globalReservationIDs []string, ifModifiedSince int64) ([]store.Connection, error) {
	var wantConn = toSet(connectionIDs)
	var wantGRI = toSet(globalReservationIDs)
	var anyFilter = len(wantConn) > 0 || len(wantGRI) > 0

	var prefix = []byte(prefixConn)
	var out []store.Connection

	var it = s.db.NewIterator(s.ro)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var c store.Connection
		var val = it.Value()
		var err = json.Unmarshal(val.Data(), &c)
		val.Free()
		if err != nil {
			return nil, errors.Wrap(err, "decoding connection")
		}

		if c.ReservationState == "ReserveChecking" || c.ReservationState == "ReserveFailed" {
			continue
		}
		if c.LastModified.UnixNano() <= ifModifiedSince {
			continue
		}
		if anyFilter {
			var _, okConn = wantConn[c.ConnectionID]
			var _, okGRI = wantGRI[c.GlobalReservationID]
			if !okConn && !okGRI {
				continue
			}
		}
		out = append(out, c)
	}
	return out, it.Err()
}

func toSet(ss []string) map[string]struct{} {
	var m = make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

// --- store.JobStore ---

// CreateJob implements store.JobStore.
func (s *Store) CreateJob(j store.JobRecord) error {
	return s.put(jobKey(j.JobID), j)
}

// LoadJob implements store.JobStore.
func (s *Store) LoadJob(jobID string) (store.JobRecord, error) {
	var j store.JobRecord
	var ok, err = s.get(jobKey(jobID), &j)
	if err != nil {
		return store.JobRecord{}, err
	}
	if !ok {
		return store.JobRecord{}, store.ErrNotFound
	}
	return j, nil
}

// UpdateJobState implements store.JobStore.
func (s *Store) UpdateJobState(jobID string, state store.JobState, lastError string) error {
	var j, err = s.LoadJob(jobID)
	if err != nil {
		return err
	}
	j.State = state
	j.LastError = lastError
	return s.put(jobKey(jobID), j)
}

// IncrementAttempts implements store.JobStore.
func (s *Store) IncrementAttempts(jobID string) (int, error) {
	var j, err = s.LoadJob(jobID)
	if err != nil {
		return 0, err
	}
	j.Attempts++
	if err := s.put(jobKey(jobID), j); err != nil {
		return 0, err
	}
	return j.Attempts, nil
}

// DeleteJob implements store.JobStore.
func (s *Store) DeleteJob(jobID string) error {
	return s.db.Delete(s.wo, []byte(jobKey(jobID)))
}

// ListPendingJobs implements store.JobStore.
func (s *Store) ListPendingJobs() ([]store.JobRecord, error) {
	return s.scanJobs(func(j store.JobRecord) bool {
		return j.State != store.JobDone && j.State != store.JobFailed
	})
}

// ListJobsForConnection implements store.JobStore.
func (s *Store) ListJobsForConnection(connectionID string) ([]store.JobRecord, error) {
	return s.scanJobs(func(j store.JobRecord) bool {
		return j.ConnectionID == connectionID && j.State != store.JobDone && j.State != store.JobFailed
	})
}

func (s *Store) scanJobs(keep func(store.JobRecord) bool) ([]store.JobRecord, error) {
	var prefix = []byte(prefixJob)
	var out []store.JobRecord

	var it = s.db.NewIterator(s.ro)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var j store.JobRecord
		var val = it.Value()
		var err = json.Unmarshal(val.Data(), &j)
		val.Free()
		if err != nil {
			return nil, errors.Wrap(err, "decoding job")
		}
		if keep(j) {
			out = append(out, j)
		}
	}
	return out, it.Err()
}
