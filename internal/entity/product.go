package entity

import "github.com/shopspring/decimal"

// ProductRef is a product as the catalog backend reports it.
type ProductRef struct {
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	AvailableQuantity int             `json:"available_quantity"`
}

// InStock reports whether at least one unit can be ordered.
func (p ProductRef) InStock() bool {
	return p.AvailableQuantity > 0
}

// FOCTier grants FreeQuantity units for every BuyQuantity units ordered.
type FOCTier struct {
	BuyQuantity  int `json:"buy_quantity"`
	FreeQuantity int `json:"free_quantity"`
}

// PriceSchedule is everything the pricing function needs for one product.
type PriceSchedule struct {
	Code            string          `json:"code"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Tiers           []FOCTier       `json:"tiers"`
}

/*
Mysql Table

CREATE TABLE products (
	code VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	unit_price DECIMAL(12,2) NOT NULL,
	discount_percent DECIMAL(5,2) NOT NULL DEFAULT 0,
	stock INT NOT NULL
);

CREATE TABLE foc_tiers (
	product_code VARCHAR(64) NOT NULL REFERENCES products(code),
	buy_quantity INT NOT NULL,
	free_quantity INT NOT NULL,
	PRIMARY KEY (product_code, buy_quantity)
);
*/
