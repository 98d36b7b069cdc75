// Package store is the reference implementation of the two local
// collaborator tables the specification treats as external: a
// primary-keyed records table and the Coordinator's primary-keyed
// lookup table. Both are kept in memory, made durable with a
// write-ahead log, and periodically compacted into a snapshot — the
// same WAL-then-snapshot discipline the teacher used for its single
// key-value table, now backing two independent tables built from one
// generic mechanism (table[T] in table.go).
package store

import "time"

// Record is one stored {key, value, timestamp} row. Primary key is
// the key under which it's stored; Timestamp is the wall-clock
// instant (UnixNano, for sub-second resolution) of the last write
// applied locally. Reconciliation across replicas is last-writer-wins
// by this field.
type Record struct {
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// LookupEntry records, for one key, the ring size that was in effect
// the last time the Coordinator wrote or stabilized it.
type LookupEntry struct {
	RingSize int `json:"ring_size"`
}

// Store bundles the two tables a peer needs: every data-bearing peer
// has Records; only the Coordinator ever touches Lookup, but every
// peer opens both so the on-disk layout is uniform and a peer can be
// promoted to Coordinator without a storage migration.
type Store struct {
	Records *table[Record]
	Lookup  *table[LookupEntry]
}

// Open creates or restores a Store rooted at dataDir.
func Open(dataDir string) (*Store, error) {
	records, err := newTable[Record](dataDir, "records.json")
	if err != nil {
		return nil, err
	}
	lookup, err := newTable[LookupEntry](dataDir, "lookup.json")
	if err != nil {
		records.Close()
		return nil, err
	}
	return &Store{Records: records, Lookup: lookup}, nil
}

// Put upserts key with the current wall-clock instant.
func (s *Store) Put(key, value string) (Record, error) {
	rec := Record{Value: value, Timestamp: time.Now().UnixNano()}
	if err := s.Records.Upsert(key, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// PutAt upserts key with an explicit timestamp instead of the current
// instant. Nodes handling a WriteRequest use Put, so each replica
// stamps its own write time.
func (s *Store) PutAt(key, value string, timestamp int64) error {
	return s.Records.Upsert(key, Record{Value: value, Timestamp: timestamp})
}

// Snapshot compacts both tables.
func (s *Store) Snapshot() error {
	if err := s.Records.Snapshot(); err != nil {
		return err
	}
	return s.Lookup.Snapshot()
}

// Close releases both tables' WAL file handles.
func (s *Store) Close() error {
	err1 := s.Records.Close()
	err2 := s.Lookup.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
