package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/linkstash/internal/models"
	bolt "go.etcd.io/bbolt"
)

// UpsertUserByUpstreamID creates the user for upstreamUserID or refreshes
// the existing one's display name and UpdatedAt.
func (s *State) UpsertUserByUpstreamID(upstreamUserID, displayName string, now time.Time) (*models.User, error) {
	if upstreamUserID == "" {
		return nil, fmt.Errorf("upstream user id is required")
	}

	var user models.User

	err := s.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket(usersByUpstreamBucket)
		users := tx.Bucket(usersBucket)

		if id := index.Get([]byte(upstreamUserID)); id != nil {
			if err := getJSON(users, string(id), &user); err != nil {
				return fmt.Errorf("reading user %s: %w", id, err)
			}

			user.DisplayName = displayName
			user.UpdatedAt = now

			return putJSON(users, user.ID, user)
		}

		user = models.User{
			ID:             newID(),
			UpstreamUserID: upstreamUserID,
			DisplayName:    displayName,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := putJSON(users, user.ID, user); err != nil {
			return err
		}

		return index.Put([]byte(upstreamUserID), []byte(user.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return &user, nil
}

// GetUser returns the user with id, or nil if absent.
func (s *State) GetUser(id string) (*models.User, error) {
	var user models.User

	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(usersBucket), id, &user)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading user: %w", err)
	}

	return &user, nil
}

// UpdateUserDisplayName sets the display name of an existing user. It
// returns nil when the user does not exist.
func (s *State) UpdateUserDisplayName(id, displayName string, now time.Time) (*models.User, error) {
	var user models.User

	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(usersBucket)
		if err := getJSON(users, id, &user); err != nil {
			return err
		}

		user.DisplayName = displayName
		user.UpdatedAt = now

		return putJSON(users, id, user)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}

	return &user, nil
}
