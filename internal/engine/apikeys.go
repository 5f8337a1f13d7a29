package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"

	"reviewline/internal/domain"
	"reviewline/internal/events"
	"reviewline/internal/repo"
)

// APIKeyPrefix marks reviewline secrets so they are recognisable in logs and
// secret scanners.
const APIKeyPrefix = "rlk_"

// CreateAPIKey issues a key acting as reviewerID. The secret is returned once
// and only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, reviewerID, email, name string, perms []string, actorID string) (domain.APIKey, string, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return domain.APIKey{}, "", errors.New("reviewer id required")
	}
	var clean []string
	for _, p := range perms {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		return domain.APIKey{}, "", errors.New("at least one permission required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := APIKeyPrefix + hex.EncodeToString(buf)
	if actorID == "" {
		actorID = reviewerID
	}
	key := domain.APIKey{
		ID:          uuid.NewString(),
		ReviewerID:  reviewerID,
		Email:       strings.TrimSpace(email),
		Name:        strings.TrimSpace(name),
		KeyHash:     repo.HashAPIKey(secret),
		Permissions: clean,
		CreatedAt:   repo.FormatTime(e.now()),
	}
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.audit().Append(ctx, tx, events.APIKeyCreated, actorID, "", events.Payload{
			"key_id":      key.ID,
			"reviewer_id": key.ReviewerID,
			"permissions": key.Permissions,
		})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// ListAPIKeys lists keys, all of them when reviewerID is empty.
func (e Engine) ListAPIKeys(ctx context.Context, reviewerID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, reviewerID)
}

// RevokeAPIKey deletes a key. It returns repo.ErrNotFound for unknown ids.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) (domain.APIKey, error) {
	var key domain.APIKey
	err := e.Repo.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if key, err = e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
			return err
		}
		return e.audit().Append(ctx, tx, events.APIKeyRevoked, actorID, "", events.Payload{
			"key_id":      key.ID,
			"reviewer_id": key.ReviewerID,
		})
	})
	return key, err
}

// AuthenticateAPIKey resolves a presented secret to its key.
func (e Engine) AuthenticateAPIKey(ctx context.Context, secret string) (domain.APIKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return domain.APIKey{}, repo.ErrNotFound
	}
	return e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(secret))
}
