package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/EllectronChik/server7x/models"
)

var ErrTokenNotFound = errors.New("token not found")

// TokenRepository resolves opaque stored API tokens.
type TokenRepository interface {
	Resolve(ctx context.Context, key string) (models.Identity, error)
}

type postgresTokenRepository struct {
	exec SQLExecutor
}

func NewPostgresTokenRepository(exec SQLExecutor) TokenRepository {
	return &postgresTokenRepository{exec: exec}
}

func (r *postgresTokenRepository) Resolve(ctx context.Context, key string) (models.Identity, error) {
	query := `
		SELECT u.id, u.is_staff
		FROM auth_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.key = $1 AND u.is_active = TRUE`

	var id models.Identity
	err := r.exec.QueryRowContext(ctx, query, key).Scan(&id.UserID, &id.IsStaff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Identity{}, ErrTokenNotFound
		}
		return models.Identity{}, fmt.Errorf("failed to resolve token: %w", err)
	}
	return id, nil
}
