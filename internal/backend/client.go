package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chat-order/internal/entity"
	"chat-order/internal/errs"
)

// Client talks to the order authority over HTTP. It serves as product
// catalog, pricing backend, draft store and order authority of a session.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client. timeout bounds every request; zero means none.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Products(ctx context.Context) ([]entity.ProductRef, error) {
	var products []entity.ProductRef
	err := c.do(ctx, "products", http.MethodGet, "/products", nil, nil, &products)
	return products, err
}

func (c *Client) Price(ctx context.Context, lines []entity.LineRequest) ([]entity.PricingResult, error) {
	var resp entity.PricingResponse
	err := c.do(ctx, "pricing", http.MethodPost, "/pricing", nil, entity.PricingRequest{Lines: lines}, &resp)
	return resp.Results, err
}

func (c *Client) PutCart(ctx context.Context, sessionID string, lines []entity.LineRequest) error {
	if lines == nil {
		lines = []entity.LineRequest{}
	}
	return c.do(ctx, "cart sync", http.MethodPut, "/carts/"+url.PathEscape(sessionID), nil, entity.CartRequest{Lines: lines}, nil)
}

func (c *Client) Submit(ctx context.Context, sessionID, idempotencyKey string) (entity.Order, error) {
	var order entity.Order
	header := http.Header{}
	header.Set("Idempotent-Key", idempotencyKey)
	err := c.do(ctx, "submit", http.MethodPost, "/orders", header, entity.SubmitRequest{SessionID: sessionID}, &order)
	return order, err
}

func (c *Client) Order(ctx context.Context, id string) (entity.Order, error) {
	var order entity.Order
	err := c.do(ctx, "order", http.MethodGet, orderPath(id, ""), nil, nil, &order)
	return order, err
}

func (c *Client) Route(ctx context.Context, id string) (entity.Order, error) {
	return c.transition(ctx, id, "route", nil)
}

func (c *Client) Confirm(ctx context.Context, id string, edits []entity.ItemEdit) (entity.ConfirmResult, error) {
	var res entity.ConfirmResult
	err := c.do(ctx, "confirm", http.MethodPost, orderPath(id, "confirm"), nil, entity.ConfirmRequest{Edits: edits}, &res)
	return res, err
}

func (c *Client) Reject(ctx context.Context, id, reason string) (entity.Order, error) {
	return c.transition(ctx, id, "reject", entity.RejectRequest{Reason: reason})
}

func (c *Client) Cancel(ctx context.Context, id string) (entity.Order, error) {
	return c.transition(ctx, id, "cancel", nil)
}

func (c *Client) transition(ctx context.Context, id, action string, body interface{}) (entity.Order, error) {
	var res entity.TransitionResult
	if err := c.do(ctx, action, http.MethodPost, orderPath(id, action), nil, body, &res); err != nil {
		return entity.Order{}, err
	}
	return res.Order, nil
}

func orderPath(id, action string) string {
	p := "/orders/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, header http.Header, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Transport(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// decodeError maps an error answer onto the error kinds of the ordering core.
func decodeError(op string, resp *http.Response) error {
	var body entity.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}

	switch {
	case resp.StatusCode >= 500:
		return errs.Transport(op, fmt.Errorf("authority returned %d: %s", resp.StatusCode, body.Error))
	case resp.StatusCode == http.StatusTooManyRequests:
		return errs.Transport(op, fmt.Errorf("rate limited: %s", body.Error))
	case resp.StatusCode == http.StatusConflict && body.Code == errs.KindState.String():
		return &errs.Error{Kind: errs.KindState, Op: op, Message: body.Error, Stage: body.Stage}
	case resp.StatusCode == http.StatusConflict:
		return &errs.Error{Kind: errs.KindConflict, Op: op, Message: body.Error, Stage: body.Stage}
	default:
		return &errs.Error{Kind: errs.KindValidation, Op: op, Message: body.Error}
	}
}
