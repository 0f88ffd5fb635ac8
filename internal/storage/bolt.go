// Package storage is the local key-value persistence shared by the history
// store and the offline command queue.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	HistoryBucket = "history"
	QueueBucket   = "offline_queue"
)

type DB struct {
	db *bbolt.DB
}

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{HistoryBucket, QueueBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Slot returns a single-value slot stored under key in bucket.
func (d *DB) Slot(bucket, key string) *Slot {
	return &Slot{db: d.db, bucket: []byte(bucket), key: []byte(key)}
}

// Queue returns a FIFO of opaque records kept in bucket.
func (d *DB) Queue(bucket string) *Queue {
	return &Queue{db: d.db, bucket: []byte(bucket)}
}

type Slot struct {
	db     *bbolt.DB
	bucket []byte
	key    []byte
}

// Load returns the stored value, or nil when the slot was never written.
func (s *Slot) Load() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(s.key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Slot) Save(data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(s.key, data)
	})
}

var ErrEmpty = errors.New("queue is empty")

// Record is one queued value with its position key.
type Record struct {
	Seq   uint64
	Value []byte
}

type Queue struct {
	db     *bbolt.DB
	bucket []byte
}

// Push appends value at the tail. Keys are big-endian sequence numbers so
// cursor order is insertion order.
func (q *Queue) Push(value []byte) (uint64, error) {
	var seq uint64
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(q.bucket)
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), value)
	})
	return seq, err
}

// Peek returns the oldest record without removing it.
func (q *Queue) Peek() (Record, error) {
	var rec Record
	err := q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(q.bucket)
		if b == nil {
			return ErrEmpty
		}
		k, v := b.Cursor().First()
		if k == nil {
			return ErrEmpty
		}
		rec = Record{Seq: binary.BigEndian.Uint64(k), Value: append([]byte(nil), v...)}
		return nil
	})
	return rec, err
}

// Update overwrites the record at seq in place, keeping its position.
func (q *Queue) Update(seq uint64, value []byte) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(q.bucket)
		if b == nil {
			return ErrEmpty
		}
		return b.Put(seqKey(seq), value)
	})
}

func (q *Queue) Delete(seq uint64) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(q.bucket)
		if b == nil {
			return nil
		}
		return b.Delete(seqKey(seq))
	})
}

func (q *Queue) Len() (int, error) {
	n := 0
	err := q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(q.bucket)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
