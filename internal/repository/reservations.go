package repository

import (
	"context"
	"database/sql"

	"chat-order/internal/entity"
)

// ReservationRepository records the stock each order holds, so a release
// gives back exactly what was taken. It lives next to the catalog.
type ReservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db}
}

// GetReservation returns the lines held by orderID, empty when it holds nothing.
func (r *ReservationRepository) GetReservation(ctx context.Context, orderID string) ([]entity.LineRequest, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, quantity FROM reservations WHERE order_id = ? ORDER BY code`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []entity.LineRequest
	for rows.Next() {
		var l entity.LineRequest
		if err := rows.Scan(&l.Code, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SaveReservations replaces the holdings of every order in held in one
// transaction. An empty line set removes the order's reservation.
func (r *ReservationRepository) SaveReservations(ctx context.Context, held map[string][]entity.LineRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for orderID, lines := range held {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE order_id = ?`, orderID); err != nil {
			tx.Rollback()
			return err
		}
		for _, l := range lines {
			_, err := tx.ExecContext(ctx, `INSERT INTO reservations (order_id, code, quantity) VALUES (?, ?, ?)`, orderID, l.Code, l.Quantity)
			if err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	return tx.Commit()
}
