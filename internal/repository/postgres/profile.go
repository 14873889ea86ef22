package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
)

// ProfileRepo implements webhook.ProfileRepository.
type ProfileRepo struct{ db *sql.DB }

// NewProfileRepo creates a Postgres-backed profile directory.
func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// FindByEmailLocalPart returns the oldest profile whose email starts with
// "<localPart>@", ignoring case. The domain is not compared so replies sent
// to an inbound-parse subdomain still resolve.
func (r *ProfileRepo) FindByEmailLocalPart(ctx context.Context, localPart string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email FROM profiles
		WHERE email ILIKE $1 ESCAPE '\'
		ORDER BY created_at
		LIMIT 1
	`, escapeLike(localPart)+"@%").Scan(&p.ID, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhook.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
