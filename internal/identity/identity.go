// Package identity resolves usernames to participant identities. There is
// no credential verification: a username token either matches an existing
// user or creates one.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hauvo5999/real-time-quiz/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

// ResolveOrCreate returns the participant identity for a username token,
// creating the user on first sight. The identity is the username itself.
func (s *Service) ResolveOrCreate(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate user ID: %w", err)
	}

	const stmt = `INSERT INTO users (id, username) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING;`

	if _, err := s.db.Exec(ctx, stmt, id, username); err != nil {
		return "", fmt.Errorf("identity: upsert user: %w", err)
	}

	return username, nil
}
