package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Repos bundles every repository bound to the same executor.
type Repos struct {
	Teams       TeamRepository
	Players     PlayerRepository
	Matches     MatchRepository
	Tournaments TournamentRepository
	Seasons     SeasonRepository
	Groups      GroupStageRepository
	Tokens      TokenRepository
}

// Store is the entity store consumed by the realtime core.
type Store interface {
	Repos() Repos
	// InTx runs fn as one unit of work. Every write made through the passed
	// Repos is rolled back when fn returns an error.
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

type postgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) Store {
	return &postgresStore{db: db, logger: logger}
}

func newPostgresRepos(exec SQLExecutor) Repos {
	return Repos{
		Teams:       NewPostgresTeamRepository(exec),
		Players:     NewPostgresPlayerRepository(exec),
		Matches:     NewPostgresMatchRepository(exec),
		Tournaments: NewPostgresTournamentRepository(exec),
		Seasons:     NewPostgresSeasonRepository(exec),
		Groups:      NewPostgresGroupStageRepository(exec),
		Tokens:      NewPostgresTokenRepository(exec),
	}
}

func (s *postgresStore) Repos() Repos {
	return newPostgresRepos(s.db)
}

func (s *postgresStore) InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) (txErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed", slog.Any("error", rbErr), slog.Any("cause", txErr))
				txErr = fmt.Errorf("transaction processing error: %w (rollback also failed: %v)", txErr, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	txErr = fn(ctx, newPostgresRepos(tx))
	return txErr
}
