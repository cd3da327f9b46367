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

var orderColumns = []string{"id", "user_id", "amount", "currency", "gateway_payment_id", "status", "created_at", "updated_at"}

type OrdersRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
	builder    squirrel.StatementBuilderType
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor, builder: pg.Builder}
}

// FindOrderForUser loads an order scoped to its owner. Returns nil when no
// such order exists for that user, so a caller cannot probe other users' orders.
func (r *OrdersRepository) FindOrderForUser(ctx context.Context, orderID, userID string) (*entities.Order, error) {
	query, args, err := r.builder.
		Select(orderColumns...).
		From("orders").
		Where(squirrel.Eq{"id": orderID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to collect order row", "error", err)
		return nil, err
	}

	return order, nil
}

// InsertOrder records a pending order together with an inactive entitlement
// row for the owner if one does not exist yet. The order-creation collaborator
// calls this before redirecting the user to the gateway checkout.
func (r *OrdersRepository) InsertOrder(ctx context.Context, order entities.Order) error {
	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		query, args, err := r.builder.
			Insert("orders").
			Columns("id", "user_id", "amount", "currency", "status").
			Values(order.ID, order.UserID, order.Amount, order.Currency, entities.OrderStatusPending).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build order insert: %w", err)
		}

		if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		_, err = r.db(ctx).Exec(ctx,
			"INSERT INTO entitlements (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING",
			order.UserID)
		if err != nil {
			return fmt.Errorf("failed to ensure entitlement row: %w", err)
		}

		return nil
	})
}

// MarkOrderResult transitions an order out of pending. The status guard makes
// the update conditional: when another callback already won the transition the
// update matches no rows and the method reports false instead of overwriting.
func (r *OrdersRepository) MarkOrderResult(ctx context.Context, orderID, userID, paymentID string, status entities.OrderStatus) (bool, error) {
	query, args, err := r.builder.
		Update("orders").
		Set("status", status).
		Set("gateway_payment_id", paymentID).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": orderID, "user_id": userID, "status": entities.OrderStatusPending}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build order update: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", orderID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// FindPaidWithoutEntitlement returns successful orders whose owner still has
// no active entitlement. These are partial commits awaiting reconciliation.
func (r *OrdersRepository) FindPaidWithoutEntitlement(ctx context.Context) ([]entities.Order, error) {
	query, args, err := r.builder.
		Select("o.id", "o.user_id", "o.amount", "o.currency", "o.gateway_payment_id", "o.status", "o.created_at", "o.updated_at").
		From("orders o").
		LeftJoin("entitlements e ON e.user_id = o.user_id").
		Where(squirrel.Eq{"o.status": entities.OrderStatusSuccess}).
		Where("(e.user_id IS NULL OR e.is_pro = false)").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reconciliation query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unreconciled orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect unreconciled order rows", "error", err)
		return nil, err
	}

	return orders, nil
}
