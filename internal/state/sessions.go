package state

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/linkstash/internal/models"
	bolt "go.etcd.io/bbolt"
)

func userSessionKey(userID, sessionID string) []byte {
	return []byte(userID + "/" + sessionID)
}

// CreateSession stores a new active session for userID.
func (s *State) CreateSession(userID, tokenHash string, now, expiresAt time.Time) (*models.Session, error) {
	if userID == "" || tokenHash == "" {
		return nil, fmt.Errorf("user id and token hash are required")
	}

	sess := models.Session{
		ID:         newID(),
		UserID:     userID,
		TokenHash:  tokenHash,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		LastSeenAt: now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		hashes := tx.Bucket(sessionHashesBucket)
		if hashes.Get([]byte(tokenHash)) != nil {
			return fmt.Errorf("token hash already in use")
		}

		if err := putJSON(tx.Bucket(sessionsBucket), sess.ID, sess); err != nil {
			return err
		}

		if err := hashes.Put([]byte(tokenHash), []byte(sess.ID)); err != nil {
			return err
		}

		return tx.Bucket(userSessionsBucket).Put(userSessionKey(userID, sess.ID), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &sess, nil
}

// FindActiveSession returns the active session whose token hashes to
// tokenHash and records now as its last-seen time. Absent, revoked and
// expired sessions all return nil.
func (s *State) FindActiveSession(tokenHash string, now time.Time) (*models.Session, error) {
	var sess models.Session

	err := s.db.Update(func(tx *bolt.Tx) error {
		id := tx.Bucket(sessionHashesBucket).Get([]byte(tokenHash))
		if id == nil {
			return errNotFound
		}

		sessions := tx.Bucket(sessionsBucket)
		if err := getJSON(sessions, string(id), &sess); err != nil {
			return err
		}

		if !sess.Active(now) {
			return errNotFound
		}

		sess.LastSeenAt = now

		return putJSON(sessions, sess.ID, sess)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("finding session: %w", err)
	}

	return &sess, nil
}

// RevokeSession marks one session revoked. It reports false when the
// session does not exist or was already revoked.
func (s *State) RevokeSession(id string, now time.Time) (bool, error) {
	changed := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)

		var sess models.Session
		if err := getJSON(sessions, id, &sess); err != nil {
			return err
		}

		if sess.RevokedAt != nil {
			return nil
		}

		sess.RevokedAt = &now
		changed = true

		return putJSON(sessions, id, sess)
	})
	if errors.Is(err, errNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("revoking session: %w", err)
	}

	return changed, nil
}

// RevokeAllSessions revokes every unrevoked session of userID and returns
// how many changed.
func (s *State) RevokeAllSessions(userID string, now time.Time) (int, error) {
	count := 0
	prefix := []byte(userID + "/")

	err := s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		c := tx.Bucket(userSessionsBucket).Cursor()

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id := string(k[len(prefix):])

			var sess models.Session
			if err := getJSON(sessions, id, &sess); err != nil {
				if errors.Is(err, errNotFound) {
					continue
				}

				return err
			}

			if sess.RevokedAt != nil {
				continue
			}

			sess.RevokedAt = &now
			if err := putJSON(sessions, id, sess); err != nil {
				return err
			}

			count++
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}

	return count, nil
}

// GetSession returns a session by id regardless of its state, or nil.
func (s *State) GetSession(id string) (*models.Session, error) {
	var sess models.Session

	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(sessionsBucket), id, &sess)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	return &sess, nil
}
