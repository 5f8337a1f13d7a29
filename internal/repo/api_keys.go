package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"reviewline/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.ReviewerID == "" {
		return errors.New("reviewer_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(id, reviewer_id, email, name, key_hash, permissions, created_at) VALUES (?,?,?,?,?,?,?)`,
		key.ID, key.ReviewerID, nullable(key.Email), nullable(key.Name), key.KeyHash, strings.Join(key.Permissions, ","), key.CreatedAt)
	return err
}

const apiKeyColumns = `id, reviewer_id, COALESCE(email,''), COALESCE(name,''), key_hash, permissions, created_at`

func scanAPIKey(s interface{ Scan(...any) error }) (domain.APIKey, error) {
	var key domain.APIKey
	var perms string
	if err := s.Scan(&key.ID, &key.ReviewerID, &key.Email, &key.Name, &key.KeyHash, &perms, &key.CreatedAt); err != nil {
		return domain.APIKey{}, err
	}
	key.Permissions = []string{}
	for _, p := range strings.Split(perms, ",") {
		if p = strings.TrimSpace(p); p != "" {
			key.Permissions = append(key.Permissions, p)
		}
	}
	return key, nil
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	key, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}

// ListAPIKeys returns API keys, optionally filtered by reviewer ID.
func (r Repo) ListAPIKeys(ctx context.Context, reviewerID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	var args []any
	if reviewerID != "" {
		query += ` WHERE reviewer_id=?`
		args = append(args, reviewerID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey deletes an API key by ID and returns the deleted row.
func (r Repo) DeleteAPIKey(ctx context.Context, tx *sql.Tx, id string) (domain.APIKey, error) {
	if strings.TrimSpace(id) == "" {
		return domain.APIKey{}, errors.New("id required")
	}
	row := r.q(tx).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id=?`, id)
	key, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id); err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}
