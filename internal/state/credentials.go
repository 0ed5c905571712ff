package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/linkstash/internal/models"
	bolt "go.etcd.io/bbolt"
)

// UpsertCredential replaces the user's upstream credential. CreatedAt is
// preserved across replacements.
func (s *State) UpsertCredential(cred models.UpstreamCredential) error {
	if cred.UserID == "" || cred.AccessTokenEncrypted == "" {
		return fmt.Errorf("user id and access token are required")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)

		var existing models.UpstreamCredential
		if err := getJSON(b, cred.UserID, &existing); err == nil {
			cred.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, errNotFound) {
			return err
		}

		return putJSON(b, cred.UserID, cred)
	})
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	return nil
}

// GetCredential returns the user's upstream credential, or nil.
func (s *State) GetCredential(userID string) (*models.UpstreamCredential, error) {
	var cred models.UpstreamCredential

	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(credentialsBucket), userID, &cred)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}

	return &cred, nil
}

// DeleteCredential removes the user's upstream credential if present.
func (s *State) DeleteCredential(userID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete([]byte(userID))
	})
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	return nil
}

// GetBootstrapConfig returns the user's resolved root/default pair, or nil.
func (s *State) GetBootstrapConfig(userID string) (*models.BootstrapConfig, error) {
	var cfg models.BootstrapConfig

	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bootstrapBucket), userID, &cfg)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading bootstrap config: %w", err)
	}

	return &cfg, nil
}

// UpsertBootstrapConfig stores the user's resolved root/default pair,
// keeping the original CreatedAt.
func (s *State) UpsertBootstrapConfig(cfg models.BootstrapConfig) error {
	if cfg.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bootstrapBucket)

		var existing models.BootstrapConfig
		if err := getJSON(b, cfg.UserID, &existing); err == nil {
			cfg.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, errNotFound) {
			return err
		}

		return putJSON(b, cfg.UserID, cfg)
	})
	if err != nil {
		return fmt.Errorf("saving bootstrap config: %w", err)
	}

	return nil
}

// CreateOAuthState stores a pending authorization state.
func (s *State) CreateOAuthState(st models.OAuthState) error {
	if st.State == "" {
		return fmt.Errorf("state value is required")
	}

	st.Status = models.OAuthStatePending

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(oauthStatesBucket)
		if b.Get([]byte(st.State)) != nil {
			return fmt.Errorf("state value already in use")
		}

		return putJSON(b, st.State, st)
	})
	if err != nil {
		return fmt.Errorf("creating oauth state: %w", err)
	}

	return nil
}

// ConsumeOAuthState transitions a pending state to consumed when it is
// unexpired and its redirect URI and verifier hash match. A state with no
// stored verifier hash matches any verifier. It reports false on any
// mismatch, leaving the record untouched.
func (s *State) ConsumeOAuthState(state, redirectURI, codeVerifierHash string, now time.Time) (bool, error) {
	consumed := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(oauthStatesBucket)

		var st models.OAuthState
		if err := getJSON(b, state, &st); err != nil {
			return err
		}

		if st.Status != models.OAuthStatePending || !now.Before(st.ExpiresAt) {
			return nil
		}

		if st.RedirectURI != redirectURI {
			return nil
		}

		if st.CodeVerifierHash != "" && st.CodeVerifierHash != codeVerifierHash {
			return nil
		}

		st.Status = models.OAuthStateConsumed
		st.ConsumedAt = &now
		consumed = true

		return putJSON(b, state, st)
	})
	if errors.Is(err, errNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("consuming oauth state: %w", err)
	}

	return consumed, nil
}

// PurgeOAuthStates deletes consumed and expired states and returns how
// many were removed.
func (s *State) PurgeOAuthStates(now time.Time) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(oauthStatesBucket)

		var stale [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var st models.OAuthState
			if err := getJSON(b, string(k), &st); err != nil {
				return err
			}

			if st.Status == models.OAuthStateConsumed || !now.Before(st.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging oauth states: %w", err)
	}

	return removed, nil
}
