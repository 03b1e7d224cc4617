package repository

import (
	"context"
	"database/sql"
	"errors"

	"chat-order/internal/entity"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// ProductRepository reads the catalog and adjusts stock. The catalog lives on
// a single database.
type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db}
}

func (r *ProductRepository) ListProducts(ctx context.Context) ([]entity.ProductRef, error) {
	var products []entity.ProductRef

	query := `SELECT code, name, unit_price, stock FROM products ORDER BY code`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p entity.ProductRef
		if err := rows.Scan(&p.Code, &p.Name, &p.UnitPrice, &p.AvailableQuantity); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *ProductRepository) GetProduct(ctx context.Context, code string) (*entity.ProductRef, error) {
	p := &entity.ProductRef{}
	query := `SELECT code, name, unit_price, stock FROM products WHERE code = ?`
	err := r.db.QueryRowContext(ctx, query, code).Scan(&p.Code, &p.Name, &p.UnitPrice, &p.AvailableQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetSchedule loads price, discount and FOC tiers of code.
func (r *ProductRepository) GetSchedule(ctx context.Context, code string) (*entity.PriceSchedule, error) {
	s := &entity.PriceSchedule{}
	query := `SELECT code, unit_price, discount_percent FROM products WHERE code = ?`
	err := r.db.QueryRowContext(ctx, query, code).Scan(&s.Code, &s.UnitPrice, &s.DiscountPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT buy_quantity, free_quantity FROM foc_tiers WHERE product_code = ? ORDER BY buy_quantity`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t entity.FOCTier
		if err := rows.Scan(&t.BuyQuantity, &t.FreeQuantity); err != nil {
			return nil, err
		}
		s.Tiers = append(s.Tiers, t)
	}
	return s, rows.Err()
}

// AdjustStock adds delta to the stock of code. Stock never goes below zero.
func (r *ProductRepository) AdjustStock(ctx context.Context, code string, delta int) error {
	query := `UPDATE products SET stock = stock + ? WHERE code = ? AND stock + ? >= 0`
	res, err := r.db.ExecContext(ctx, query, delta, code, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetProduct(ctx, code); err != nil {
			return err
		}
		return ErrInsufficientStock
	}
	return nil
}
