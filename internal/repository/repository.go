package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chat-order/internal/entity"
	"chat-order/internal/sharding"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("order was modified concurrently")
)

type OrderRepository struct {
	dbShards []*sql.DB
	router   *sharding.ShardRouter
}

func NewOrderRepository(dbShards []*sql.DB, router *sharding.ShardRouter) *OrderRepository {
	return &OrderRepository{dbShards, router}
}

func (r *OrderRepository) shard(id string) *sql.DB {
	return r.dbShards[r.router.GetShard(id)]
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	orderQuery := `SELECT id, session_id, parent_id, stage, total_amount, placed_by, placed_by_role, reject_reason, version, created_at, updated_at FROM orders WHERE id = ?`
	lineQuery := `SELECT item_id, code, name, ordered_quantity, confirmed_quantity, pricing, lot_number, expiry_date, reason FROM order_lines WHERE order_id = ? ORDER BY position`

	db := r.shard(id)

	order := &entity.Order{}
	var parentID, rejectReason sql.NullString
	err := db.QueryRowContext(ctx, orderQuery, id).Scan(&order.ID, &order.SessionID, &parentID, &order.Stage, &order.TotalAmount,
		&order.PlacedBy.ID, &order.PlacedBy.Role, &rejectReason, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	order.ParentID = parentID.String
	order.RejectReason = rejectReason.String

	rows, err := db.QueryContext(ctx, lineQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		line := entity.OrderLine{}
		var confirmed sql.NullInt64
		var pricing []byte
		var lot, expiry, reason sql.NullString
		err := rows.Scan(&line.ItemID, &line.Code, &line.Name, &line.OrderedQuantity, &confirmed, &pricing, &lot, &expiry, &reason)
		if err != nil {
			return nil, err
		}
		if confirmed.Valid {
			q := int(confirmed.Int64)
			line.ConfirmedQuantity = &q
		}
		if err := json.Unmarshal(pricing, &line.Pricing); err != nil {
			return nil, fmt.Errorf("order %s item %s: decode pricing: %w", id, line.ItemID, err)
		}
		line.LotNumber, line.ExpiryDate, line.Reason = lot.String, expiry.String, reason.String
		order.Lines = append(order.Lines, line)
	}

	return order, rows.Err()
}

// CreateOrder inserts order and its lines in one transaction.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *entity.Order) error {
	db := r.shard(order.ID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	orderQuery := `INSERT INTO orders (id, session_id, parent_id, stage, total_amount, placed_by, placed_by_role, reject_reason, version, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, orderQuery, order.ID, order.SessionID, nullString(order.ParentID), order.Stage, order.TotalAmount,
		order.PlacedBy.ID, order.PlacedBy.Role, nullString(order.RejectReason), order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		tx.Rollback()
		return err
	}

	if err := insertLines(ctx, tx, order); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// UpdateOrder stores order if its version still matches the stored one and
// bumps the version. Lines are replaced.
func (r *OrderRepository) UpdateOrder(ctx context.Context, order *entity.Order) error {
	db := r.shard(order.ID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	orderQuery := `UPDATE orders SET stage = ?, total_amount = ?, reject_reason = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, orderQuery, order.Stage, order.TotalAmount, nullString(order.RejectReason), order.UpdatedAt, order.ID, order.Version)
	if err != nil {
		tx.Rollback()
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if n == 0 {
		tx.Rollback()
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = ?`, order.ID); err != nil {
		tx.Rollback()
		return err
	}
	if err := insertLines(ctx, tx, order); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	order.Version++
	return nil
}

// DeleteOrder removes order id and, by cascade, its lines.
func (r *OrderRepository) DeleteOrder(ctx context.Context, id string) error {
	_, err := r.shard(id).ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	return err
}

// insertLines writes all lines of order with one batch insert.
func insertLines(ctx context.Context, tx *sql.Tx, order *entity.Order) error {
	if len(order.Lines) == 0 {
		return nil
	}

	query := `
		INSERT INTO order_lines (item_id, order_id, position, code, name, ordered_quantity, confirmed_quantity, pricing, lot_number, expiry_date, reason)
		VALUES `

	placeholders := make([]string, 0, len(order.Lines))
	var values []interface{}
	for i, l := range order.Lines {
		pricing, err := json.Marshal(l.Pricing)
		if err != nil {
			return err
		}
		var confirmed sql.NullInt64
		if l.ConfirmedQuantity != nil {
			confirmed = sql.NullInt64{Int64: int64(*l.ConfirmedQuantity), Valid: true}
		}
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		values = append(values, l.ItemID, order.ID, i, l.Code, l.Name, l.OrderedQuantity, confirmed, string(pricing),
			nullString(l.LotNumber), nullString(l.ExpiryDate), nullString(l.Reason))
	}

	_, err := tx.ExecContext(ctx, query+strings.Join(placeholders, ","), values...)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
