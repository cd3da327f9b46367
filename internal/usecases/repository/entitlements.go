package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/repolens/billing/internal/entities"
	"github.com/repolens/billing/pkg/database"
)

type EntitlementsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	builder    squirrel.StatementBuilderType
}

func NewEntitlementsRepository(logger *slog.Logger, pg *database.Postgres) *EntitlementsRepository {
	return &EntitlementsRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor, builder: pg.Builder}
}

// Activate flips the pro flag for a user. The upsert only touches rows that
// are not active yet, so activating twice is a no-op and the return value
// reports whether this call performed the flip.
func (r *EntitlementsRepository) Activate(ctx context.Context, userID string) (bool, error) {
	query := `INSERT INTO entitlements (user_id, is_pro, activated_at, updated_at)
              VALUES ($1, true, now(), now())
              ON CONFLICT (user_id) DO UPDATE
                 SET is_pro = true,
                     activated_at = coalesce(entitlements.activated_at, now()),
                     updated_at = now()
               WHERE entitlements.is_pro = false`

	tag, err := r.db(ctx).Exec(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("failed to activate entitlement for user %s: %w", userID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// FindByUser returns the stored entitlement, or nil when the user has none yet.
func (r *EntitlementsRepository) FindByUser(ctx context.Context, userID string) (*entities.Entitlement, error) {
	query, args, err := r.builder.
		Select("user_id", "is_pro", "activated_at", "updated_at").
		From("entitlements").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build entitlement query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlement: %w", err)
	}

	entitlement, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Entitlement])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to collect entitlement row", "error", err)
		return nil, err
	}

	return entitlement, nil
}
