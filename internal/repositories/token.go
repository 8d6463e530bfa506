package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/shared"
)

// TokenRepository persists the session credentials in a single row.
type TokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new [TokenRepository] with the given database connection
func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Load returns the stored credentials or [shared.ErrNotAuthenticated] when none are stored.
func (r *TokenRepository) Load() (*models.StoredToken, error) {
	query := `
		SELECT access_token, refresh_token, token_type, expiry, updated_at
		FROM session_tokens
		WHERE id = 1
	`

	var (
		token  models.StoredToken
		expiry sql.NullTime
	)
	err := r.db.QueryRow(query).Scan(&token.AccessToken, &token.RefreshToken, &token.TokenType, &expiry, &token.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session token: %w", err)
	}
	if expiry.Valid {
		token.Expiry = expiry.Time
	}

	return &token, nil
}

// Save replaces the stored credentials.
func (r *TokenRepository) Save(token models.StoredToken) error {
	if token.AccessToken == "" {
		return fmt.Errorf("%w: access token is required", shared.ErrInvalidInput)
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: token.Expiry.UTC(), Valid: true}
	}

	query := `
		INSERT INTO session_tokens (id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, token.AccessToken, token.RefreshToken, token.TokenType, expiry, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

// Clear removes the stored credentials.
func (r *TokenRepository) Clear() error {
	if _, err := r.db.Exec("DELETE FROM session_tokens"); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}
	return nil
}
