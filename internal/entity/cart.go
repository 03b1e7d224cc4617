package entity

// CartLine is one selected product in a draft cart.
type CartLine struct {
	Product         ProductRef     `json:"product"`
	OrderedQuantity int            `json:"ordered_quantity"`
	Pricing         *PricingResult `json:"pricing,omitempty"`
}

// Code returns the product code of the line.
func (l CartLine) Code() string {
	return l.Product.Code
}

// Request returns the line as sent over the wire.
func (l CartLine) Request() LineRequest {
	return LineRequest{Code: l.Product.Code, Quantity: l.OrderedQuantity}
}

// Clone returns a copy that shares no pointers with l.
func (l CartLine) Clone() CartLine {
	if l.Pricing != nil {
		p := *l.Pricing
		l.Pricing = &p
	}
	return l
}

// Requests converts lines to their wire shape, preserving order.
func Requests(lines []CartLine) []LineRequest {
	out := make([]LineRequest, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Request())
	}
	return out
}

// Draft is the server copy of a session's cart. OwnerID is the actor that
// first pushed it; nobody else may write or submit it.
type Draft struct {
	SessionID string        `json:"session_id"`
	OwnerID   string        `json:"owner_id"`
	Lines     []LineRequest `json:"lines"`
}
