package store

// This file documents the compare-and-swap idiom rocksdb.Store.UpdateState
// follows. dwarri-gazette coordinates concurrent writers through
// go.etcd.io/etcd/clientv3's Txn API: a Txn.If(Compare(Value(key), "=",
// expected)).Then(Put(key, next)) either commits atomically or reports
// that the precondition failed, exactly mirroring spec.md §4.2's
// "update_state ... compare-and-swap on the previous state".
//
// Our Connection Store is a single embedded RocksDB instance rather than a
// replicated Etcd cluster (spec.md explicitly excludes the physical schema
// from scope, and nothing in the Connection Control Core requires
// multi-process coordination), so there is no Txn RPC to issue. Instead
// rocksdb.Store.UpdateState takes the store's own per-connection keyed
// mutex (separate from the one package jobqueue uses to serialise jobs),
// re-reads the current value, checks it against expectedPrev, and writes
// the new value -- the same check-then-act guarantee a single Etcd Txn
// gives, just expressed as a critical section instead of a server-side
// transaction. The store holds that mutex only for the duration of the
// read-check-write.
