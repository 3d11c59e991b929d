package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const sessionKeyPrefix = "sess!"

// BadgerStore implements raw session storage using BadgerDB
type BadgerStore struct {
	db         *badger.DB
	maxSizeMB  int
	path       string
	gcInterval time.Duration
	retention  time.Duration
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// NewBadgerStore creates a new BadgerDB session store
func NewBadgerStore(path string, maxSizeMB int, gcInterval, retention time.Duration) (*BadgerStore, error) {
	// Open BadgerDB
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithLoggingLevel(badger.WARNING)
	if maxSizeMB > 0 {
		opts = opts.WithValueLogFileSize(int64(maxSizeMB) << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening BadgerDB: %w", err)
	}

	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}

	store := &BadgerStore{
		db:         db,
		maxSizeMB:  maxSizeMB,
		path:       path,
		gcInterval: gcInterval,
		retention:  retention,
		stopChan:   make(chan struct{}),
	}

	// Start background GC
	store.startGC()

	return store, nil
}

// Close closes the BadgerDB store
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop GC
	close(s.stopChan)
	s.wg.Wait()

	// Close DB
	return s.db.Close()
}

// StoreSession stores a session record. The key is derived from the
// session start time and id, so re-sending a session overwrites its
// earlier record.
func (s *BadgerStore) StoreSession(session *Session) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := generateSessionKey(session.Started, session.SessionID)

	// Encode session to JSON
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("error marshaling session: %w", err)
	}

	// Store session
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("error storing session: %w", err)
	}

	return nil
}

// ScanSessions iterates sessions started in [start, end) in ascending
// start order.
func (s *BadgerStore) ScanSessions(start, end time.Time, fn func(*Session) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startKey := generateSessionKey(start, "")
	endKey := generateSessionKey(end, "")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 32
		it := txn.NewIterator(opts)
		defer it.Close()

		// Iterate over sessions in the time range
		for it.Seek(startKey); it.Valid() && bytes.Compare(it.Item().Key(), endKey) < 0; it.Next() {
			item := it.Item()
			if !bytes.HasPrefix(item.Key(), []byte(sessionKeyPrefix)) {
				break
			}

			var session Session
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			})
			if err != nil {
				return fmt.Errorf("error unmarshaling session: %w", err)
			}

			if !fn(&session) {
				break
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("error scanning sessions: %w", err)
	}

	return nil
}

// generateSessionKey generates a key ordered by start time, with the
// session id as tiebreaker for sessions started at the same instant.
func generateSessionKey(started time.Time, sessionID string) []byte {
	key := make([]byte, len(sessionKeyPrefix)+8, len(sessionKeyPrefix)+8+len(sessionID))
	copy(key, sessionKeyPrefix)
	binary.BigEndian.PutUint64(key[len(sessionKeyPrefix):], uint64(started.UnixNano()))
	return append(key, sessionID...)
}

// startGC starts the garbage collection process
func (s *BadgerStore) startGC() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if s.retention > 0 {
					if err := s.dropExpired(time.Now().Add(-s.retention)); err != nil {
						fmt.Printf("BadgerDB retention error: %v\n", err)
					}
				}
				// Run value log GC
				err := s.db.RunValueLogGC(0.5) // Run GC if we can reclaim 50% space
				if err != nil && err != badger.ErrNoRewrite {
					// Log the error, but don't stop the loop
					fmt.Printf("BadgerDB GC error: %v\n", err)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

// dropExpired deletes sessions started before the cutoff.
func (s *BadgerStore) dropExpired(cutoff time.Time) error {
	cutoffKey := generateSessionKey(cutoff, "")

	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(sessionKeyPrefix)); it.Valid() && bytes.Compare(it.Item().Key(), cutoffKey) < 0; it.Next() {
			expired = append(expired, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range expired {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
