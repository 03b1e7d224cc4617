package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStage is the position of an order in its lifecycle.
type OrderStage string

const (
	StageDraft             OrderStage = "draft"
	StageSubmitted         OrderStage = "submitted"
	StagePending           OrderStage = "pending" // remainder split off a partial confirmation
	StageDistributorReview OrderStage = "distributor_review"
	StageConfirmed         OrderStage = "confirmed"
	StageRejected          OrderStage = "rejected"
	StageCancelled         OrderStage = "cancelled"
)

func (s OrderStage) String() string {
	return string(s)
}

// Terminal reports whether no transition may leave s.
func (s OrderStage) Terminal() bool {
	switch s {
	case StageConfirmed, StageRejected, StageCancelled:
		return true
	}
	return false
}

// Role is who an actor is acting as.
type Role string

const (
	RoleCustomer    Role = "customer"
	RoleMR          Role = "mr"
	RoleDistributor Role = "distributor"
)

// Actor identifies the user behind a session.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type Order struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	ParentID     string          `json:"parent_id,omitempty"`
	Stage        OrderStage      `json:"stage"`
	Lines        []OrderLine     `json:"lines"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PlacedBy     Actor           `json:"placed_by"`
	RejectReason string          `json:"reject_reason,omitempty"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OrderLine is a cart line frozen at submission. ConfirmedQuantity is set when
// the distributor confirms; lot, expiry and reason are audit data only.
type OrderLine struct {
	ItemID            string        `json:"item_id"`
	Code              string        `json:"code"`
	Name              string        `json:"name"`
	OrderedQuantity   int           `json:"ordered_quantity"`
	ConfirmedQuantity *int          `json:"confirmed_quantity,omitempty"`
	Pricing           PricingResult `json:"pricing"`
	LotNumber         string        `json:"lot_number,omitempty"`
	ExpiryDate        string        `json:"expiry_date,omitempty"`
	Reason            string        `json:"reason,omitempty"`
}

// Quantity is the confirmed quantity once set, the ordered one before.
func (l OrderLine) Quantity() int {
	if l.ConfirmedQuantity != nil {
		return *l.ConfirmedQuantity
	}
	return l.OrderedQuantity
}

// ItemEdit is a distributor's change to one line during review.
type ItemEdit struct {
	ItemID          string `json:"item_id"`
	RevisedQuantity *int   `json:"revised_quantity,omitempty"`
	LotNumber       string `json:"lot_number,omitempty"`
	ExpiryDate      string `json:"expiry_date,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ConfirmResult is the authority's answer to a confirmation.
type ConfirmResult struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	Order         Order    `json:"order"`
	Remainder     *Order   `json:"remainder,omitempty"`
	Notifications []string `json:"notifications"`
}

// Clone returns a deep copy of o.
func (o Order) Clone() Order {
	if o.Lines == nil {
		return o
	}
	lines := make([]OrderLine, len(o.Lines))
	for i, l := range o.Lines {
		if l.ConfirmedQuantity != nil {
			q := *l.ConfirmedQuantity
			l.ConfirmedQuantity = &q
		}
		lines[i] = l
	}
	o.Lines = lines
	return o
}

// Recalculate sums line totals into TotalAmount.
func (o *Order) Recalculate() {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Pricing.LineTotal)
	}
	o.TotalAmount = total
}

/*
Mysql Table

CREATE TABLE orders (
	id CHAR(36) PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	parent_id CHAR(36) NULL,
	stage VARCHAR(32) NOT NULL,
	total_amount DECIMAL(14,2) NOT NULL,
	placed_by VARCHAR(64) NOT NULL,
	placed_by_role VARCHAR(16) NOT NULL,
	reject_reason TEXT NULL,
	version INT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE order_lines (
	item_id CHAR(36) PRIMARY KEY,
	order_id CHAR(36) NOT NULL REFERENCES orders(id),
	position INT NOT NULL,
	code VARCHAR(64) NOT NULL,
	name VARCHAR(255) NOT NULL,
	ordered_quantity INT NOT NULL,
	confirmed_quantity INT NULL,
	pricing JSON NOT NULL,
	lot_number VARCHAR(64) NULL,
	expiry_date VARCHAR(32) NULL,
	reason TEXT NULL
);
*/
