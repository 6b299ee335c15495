package storage

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/casetutor/casetutor/internal/model"
)

const authSessionTTL = 24 * time.Hour

// CreateAuthSession creates a new auth session token for a user. Auth
// sessions always live in the local store: they are device state, not
// course data.
func (b *LocalBackend) CreateAuthSession(userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = b.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(authSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the auth session for the given token, or nil if not
// found or expired.
func (b *LocalBackend) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := b.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = b.DeleteAuthSession(token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session token.
func (b *LocalBackend) DeleteAuthSession(token string) error {
	_, err := b.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions.
func (b *LocalBackend) CleanupExpiredSessions() error {
	_, err := b.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	return err
}

// SetImportedFileHash records the content hash of an imported case bank file.
func (b *LocalBackend) SetImportedFileHash(name, hash string) error {
	_, err := b.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		"import:"+name, hash, hash,
	)
	return err
}

// GetImportedFileHash returns the recorded hash for an imported file, or an
// empty string if the file was never imported.
func (b *LocalBackend) GetImportedFileHash(name string) (string, error) {
	var value string
	err := b.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, "import:"+name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
