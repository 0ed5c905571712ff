// Package state persists LinkStash's local records in a bbolt database:
// users, sessions, encrypted upstream credentials, OAuth states and
// per-user bootstrap configuration. Every exported method runs in exactly
// one bbolt transaction.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	usersBucket           = []byte("users")
	usersByUpstreamBucket = []byte("users_by_upstream")
	sessionsBucket        = []byte("sessions")
	sessionHashesBucket   = []byte("session_hashes")
	userSessionsBucket    = []byte("user_sessions")
	credentialsBucket     = []byte("credentials")
	oauthStatesBucket     = []byte("oauth_states")
	bootstrapBucket       = []byte("bootstrap")

	allBuckets = [][]byte{
		usersBucket,
		usersByUpstreamBucket,
		sessionsBucket,
		sessionHashesBucket,
		userSessionsBucket,
		credentialsBucket,
		oauthStatesBucket,
		bootstrapBucket,
	}
)

// errNotFound is internal to transactions; exported lookups return nil
// records instead.
var errNotFound = errors.New("record not found")

// State wraps a bbolt database for all persistent server state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.linkstash/server.db.
func Load() (*State, error) {
	return LoadAt(DefaultPath())
}

// LoadAt opens a state database at the given path, creating it and all
// buckets if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// DefaultPath returns ~/.linkstash/server.db.
func DefaultPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current directory
		// where the database (containing encrypted tokens) might end up
		// inside a source-controlled tree.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".linkstash", "server.db")
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return errNotFound
	}

	return json.Unmarshal(data, v)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return b.Put([]byte(key), data)
}

func newID() string {
	return uuid.NewString()
}
