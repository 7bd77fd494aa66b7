package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/songify/widget/internal/crypto"
	"github.com/songify/widget/internal/playback"
)

// CredentialStore is a playback.CredentialStore backed by the users table.
// Tokens are encrypted before they are written.
type CredentialStore struct {
	db     *sql.DB
	crypto crypto.Service
	clock  clockwork.Clock
}

func NewCredentialStore(db *sql.DB, cs crypto.Service, clock clockwork.Clock) *CredentialStore {
	return &CredentialStore{db: db, crypto: cs, clock: clock}
}

func (s *CredentialStore) Get(ctx context.Context, id string) (playback.Credential, error) {
	var access, refresh string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at FROM users WHERE id = ?`, id,
	).Scan(&access, &refresh, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return playback.Credential{}, playback.ErrCredentialNotFound
	}
	if err != nil {
		return playback.Credential{}, fmt.Errorf("getting credential: %w", err)
	}

	cred := playback.Credential{ID: id, ExpiresAt: time.UnixMilli(expiresAt).UTC()}
	if cred.AccessToken, err = s.crypto.Decrypt(access); err != nil {
		return playback.Credential{}, fmt.Errorf("decrypting access token: %w", err)
	}
	if cred.RefreshToken, err = s.crypto.Decrypt(refresh); err != nil {
		return playback.Credential{}, fmt.Errorf("decrypting refresh token: %w", err)
	}
	return cred, nil
}

func (s *CredentialStore) Update(ctx context.Context, cred playback.Credential) (playback.Credential, error) {
	access, refresh, err := s.seal(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return playback.Credential{}, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		access, refresh, cred.ExpiresAt.UnixMilli(), s.now(), cred.ID,
	)
	if err != nil {
		return playback.Credential{}, fmt.Errorf("updating credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return playback.Credential{}, fmt.Errorf("updating credential: %w", err)
	}
	if n == 0 {
		return playback.Credential{}, playback.ErrCredentialNotFound
	}
	return cred, nil
}

// Create stores a newly authorized account and returns its id. An account
// that logs in again keeps its id and gets its tokens replaced.
func (s *CredentialStore) Create(ctx context.Context, nc playback.NewCredential) (string, error) {
	if nc.Email == "" {
		return "", fmt.Errorf("creating credential: account has no email")
	}
	access, refresh, err := s.seal(nc.AccessToken, nc.RefreshToken)
	if err != nil {
		return "", err
	}

	now := s.now()
	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.NewString(), nc.Email, access, refresh, nc.ExpiresAt.UnixMilli(), now, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("creating credential: %w", err)
	}
	return id, nil
}

func (s *CredentialStore) seal(access, refresh string) (string, string, error) {
	a, err := s.crypto.Encrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("encrypting access token: %w", err)
	}
	r, err := s.crypto.Encrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("encrypting refresh token: %w", err)
	}
	return a, r, nil
}

func (s *CredentialStore) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}
