// Package clientstate persists the CLI's saved session token and its queue
// of links waiting to be sent, in a bbolt file.
package clientstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	dirPerm     = fs.FileMode(0o700)
	filePerm    = fs.FileMode(0o600)
	openTimeout = 5 * time.Second

	// DefaultPendingLimit caps how many queued links Pending returns.
	DefaultPendingLimit = 200
)

var (
	sessionBucket     = []byte("session")
	pendingBucket     = []byte("pending")
	pendingURLsBucket = []byte("pending_urls")

	sessionTokenKey = []byte("token")
)

// PendingLink is a URL queued while offline or before login.
type PendingLink struct {
	ID        uint64    `json:"id" yaml:"id"`
	URL       string    `json:"url" yaml:"url"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Store wraps the client database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the client database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, filePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening client db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionBucket, pendingBucket, pendingURLsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing client db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionToken returns the saved session token, or "" when none is saved.
func (s *Store) SessionToken() (string, error) {
	var token string

	err := s.db.View(func(tx *bolt.Tx) error {
		token = strings.TrimSpace(string(tx.Bucket(sessionBucket).Get(sessionTokenKey)))
		return nil
	})

	return token, err
}

// SaveSessionToken replaces the saved session token.
func (s *Store) SaveSessionToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(sessionTokenKey, []byte(token))
	})
}

// ClearSessionToken removes the saved session token.
func (s *Store) ClearSessionToken() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(sessionTokenKey)
	})
}

// Enqueue appends url to the pending queue. It reports false without
// error when url is blank or already queued.
func (s *Store) Enqueue(url string, now time.Time) (bool, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return false, nil
	}

	added := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		urls := tx.Bucket(pendingURLsBucket)
		if urls.Get([]byte(url)) != nil {
			return nil
		}

		pending := tx.Bucket(pendingBucket)

		seq, err := pending.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(PendingLink{ID: seq, URL: url, CreatedAt: now.UTC()})
		if err != nil {
			return err
		}

		key := seqKey(seq)
		if err := pending.Put(key, data); err != nil {
			return err
		}

		added = true

		return urls.Put([]byte(url), key)
	})
	if err != nil {
		return false, fmt.Errorf("enqueueing link: %w", err)
	}

	return added, nil
}

// Pending returns up to limit queued links, oldest first. A non-positive
// limit uses DefaultPendingLimit.
func (s *Store) Pending(limit int) ([]PendingLink, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}

	var out []PendingLink

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(pendingBucket).Cursor()

		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var p PendingLink
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decoding pending link %d: %w", binary.BigEndian.Uint64(k), err)
			}

			out = append(out, p)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Remove deletes a queued link by id. Unknown ids are ignored.
func (s *Store) Remove(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(pendingBucket)
		key := seqKey(id)

		data := pending.Get(key)
		if data == nil {
			return nil
		}

		var p PendingLink
		if err := json.Unmarshal(data, &p); err == nil {
			if err := tx.Bucket(pendingURLsBucket).Delete([]byte(p.URL)); err != nil {
				return err
			}
		}

		return pending.Delete(key)
	})
}

// Count returns the number of queued links.
func (s *Store) Count() (int, error) {
	var n int

	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(pendingBucket).Stats().KeyN
		return nil
	})

	return n, err
}

// seqKey encodes a sequence number so keys sort in insertion order.
func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)

	return b
}
