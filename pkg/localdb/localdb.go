// Package localdb is this node's private, non-farm-root key/value store.
// Everything here is scratch state a node keeps about its own recent
// activity (command dedup windows, submission retry counters, rendezvous
// locks); none of it is part of the coordination fabric and none of it is
// ever read by another node. bbolt gives us crash-safe local persistence
// without reaching for anything heavier.
package localdb

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCommandDedup      = []byte("command_dedup")
	bucketSubmissionRetries = []byte("submission_retries")
	bucketRendezvous        = []byte("rendezvous")
)

// DB is the node-local bbolt-backed store.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if needed) the local database under dataDir.
func Open(dataDir string) (*DB, error) {
	path := filepath.Join(dataDir, "smallrender-local.db")

	b, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCommandDedup, bucketSubmissionRetries, bucketRendezvous} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	return &DB{bolt: b}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// SeenCommand records msg_id as processed at seenAt, returning true if it was
// already seen (within whatever dedup window the caller enforces via Prune).
func (d *DB) SeenCommand(msgID string, seenAt time.Time) (alreadySeen bool, err error) {
	err = d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommandDedup)
		if b.Get([]byte(msgID)) != nil {
			alreadySeen = true
			return nil
		}
		return b.Put([]byte(msgID), encodeTime(seenAt))
	})
	return alreadySeen, err
}

// PruneCommandDedup deletes dedup entries older than olderThan.
func (d *DB) PruneCommandDedup(olderThan time.Time) error {
	return pruneByTimestamp(d.bolt, bucketCommandDedup, olderThan)
}

// SubmissionRetryCount returns the number of consecutive failed attempts
// recorded for filename, 0 if none.
func (d *DB) SubmissionRetryCount(filename string) (int, error) {
	var count int
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubmissionRetries)
		v := b.Get([]byte(filename))
		if v == nil {
			return nil
		}
		count = int(binary.BigEndian.Uint32(v))
		return nil
	})
	return count, err
}

// IncrementSubmissionRetry bumps and returns filename's retry count.
func (d *DB) IncrementSubmissionRetry(filename string) (int, error) {
	var next int
	err := d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubmissionRetries)
		v := b.Get([]byte(filename))
		count := uint32(0)
		if v != nil {
			count = binary.BigEndian.Uint32(v)
		}
		count++
		next = int(count)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, count)
		return b.Put([]byte(filename), buf)
	})
	return next, err
}

// ClearSubmissionRetry removes filename's retry counter, e.g. once it is
// successfully submitted or permanently abandoned.
func (d *DB) ClearSubmissionRetry(filename string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubmissionRetries).Delete([]byte(filename))
	})
}

// TryAcquireRendezvous attempts to claim name as a single-instance lock,
// recording the current process's ownership token. It returns false without
// error if any owner is already recorded under name; whether that owner is
// still alive is not checked.
func (d *DB) TryAcquireRendezvous(name, ownerToken string, at time.Time) (acquired bool, err error) {
	err = d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRendezvous)
		if existing := b.Get([]byte(name)); existing != nil {
			acquired = false
			return nil
		}
		acquired = true
		return b.Put([]byte(name), encodeRendezvous(ownerToken, at))
	})
	return acquired, err
}

// ReleaseRendezvous drops a previously acquired lock.
func (d *DB) ReleaseRendezvous(name string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRendezvous).Delete([]byte(name))
	})
}

func pruneByTimestamp(b *bolt.DB, bucket []byte, olderThan time.Time) error {
	return b.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucket)
		var stale [][]byte
		err := bk.ForEach(func(k, v []byte) error {
			if decodeTime(v).Before(olderThan) {
				stale = append(stale, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixMilli()))
	return buf
}

func decodeTime(v []byte) time.Time {
	if len(v) < 8 {
		return time.Time{}
	}
	ms := int64(binary.BigEndian.Uint64(v))
	return time.UnixMilli(ms)
}

func encodeRendezvous(ownerToken string, at time.Time) []byte {
	ts := encodeTime(at)
	return append(ts, []byte(ownerToken)...)
}
