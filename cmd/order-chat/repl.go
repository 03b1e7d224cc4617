package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-shellwords"

	"chat-order/internal/entity"
	"chat-order/internal/session"
)

// chat is the part of session.Session the prompt drives.
type chat interface {
	LoadProducts(ctx context.Context) error
	Products() []entity.ProductRef
	Select(ctx context.Context, code string) error
	Deselect(ctx context.Context, code string) error
	SetQuantity(ctx context.Context, code string, qty int) (int, error)
	Increment(ctx context.Context, code string) (int, error)
	Decrement(ctx context.Context, code string) (int, error)
	Clear()
	Submit(ctx context.Context) error
	Open(ctx context.Context, orderID string) error
	Refresh(ctx context.Context) error
	Route(ctx context.Context) error
	Confirm(ctx context.Context, edits []entity.ItemEdit) error
	Reject(ctx context.Context, reason string) error
	Cancel(ctx context.Context) error
	NewOrder() error
	View() session.View
}

var errQuit = errors.New("quit")

const usage = `commands:
  products                    list the catalog
  select CODE | deselect CODE
  set CODE QTY | inc CODE | dec CODE
  clear                       empty the cart
  cart                        show cart and order
  submit                      submit the cart as an order
  open ID | refresh           load an order from the authority
  route                       send the order to distributor review
  confirm [EDIT...]           EDIT is ITEM[=QTY][@LOT[,EXPIRY]][:REASON]
                              ITEM is a line number, product code or item id
                              quote a reason with spaces: 1=4:"short stock"
  reject REASON...
  cancel
  new                         start a new draft
  quit`

type repl struct {
	chat chat
	out  io.Writer
}

// Loop executes lines from in until it is exhausted or quit is typed.
func (r *repl) Loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(r.out, "> ")
	for scanner.Scan() {
		err := r.Exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(r.out, "> ")
	}
	return scanner.Err()
}

func (r *repl) Exec(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help", "?":
		fmt.Fprintln(r.out, usage)
		return nil
	case "products":
		if err := r.chat.LoadProducts(ctx); err != nil {
			return err
		}
		r.products()
		return nil
	case "cart", "status":
		r.render()
		return nil
	case "clear":
		r.chat.Clear()
		r.render()
		return nil
	case "new":
		return r.then(r.chat.NewOrder())
	case "submit":
		return r.then(r.chat.Submit(ctx))
	case "refresh":
		return r.then(r.chat.Refresh(ctx))
	case "route":
		return r.then(r.chat.Route(ctx))
	case "cancel":
		return r.then(r.chat.Cancel(ctx))
	case "reject":
		return r.then(r.chat.Reject(ctx, strings.Join(args, " ")))
	case "confirm":
		edits, err := parseEdits(r.chat.View().Order.Order.Lines, args)
		if err != nil {
			return err
		}
		return r.then(r.chat.Confirm(ctx, edits))
	}

	switch cmd {
	case "open", "select", "deselect", "inc", "dec", "set":
		if len(args) == 0 {
			return fmt.Errorf("%s needs an argument, try help", cmd)
		}
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}

	switch cmd {
	case "open":
		return r.then(r.chat.Open(ctx, args[0]))
	case "select":
		return r.then(r.chat.Select(ctx, args[0]))
	case "deselect":
		return r.then(r.chat.Deselect(ctx, args[0]))
	case "inc":
		_, err := r.chat.Increment(ctx, args[0])
		return r.then(err)
	case "dec":
		_, err := r.chat.Decrement(ctx, args[0])
		return r.then(err)
	case "set":
		if len(args) < 2 {
			return errors.New("usage: set CODE QTY")
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("quantity %q is not a number", args[1])
		}
		got, err := r.chat.SetQuantity(ctx, args[0], qty)
		if err == nil && got != qty {
			fmt.Fprintf(r.out, "quantity of %s adjusted to %d\n", args[0], got)
		}
		return r.then(err)
	}
	return nil
}

// then renders the view after a successful command.
func (r *repl) then(err error) error {
	if err != nil {
		return err
	}
	r.render()
	return nil
}

func (r *repl) products() {
	w := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tPRICE\tSTOCK")
	for _, p := range r.chat.Products() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.Code, p.Name, p.UnitPrice.StringFixed(2), p.AvailableQuantity)
	}
	w.Flush()
}

func (r *repl) render() {
	render(r.out, r.chat.View())
}

func render(out io.Writer, v session.View) {
	fmt.Fprintf(out, "session %s (%s %s), sync %s rev %d/%d\n",
		v.SessionID, v.Actor.Role, v.Actor.ID, v.Sync.State, v.Sync.PushedRevision, v.Sync.Revision)
	if v.Sync.LastError != nil {
		fmt.Fprintf(out, "  last sync error: %v\n", v.Sync.LastError)
	}

	if len(v.Lines) == 0 {
		fmt.Fprintln(out, "cart is empty")
	} else {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tCODE\tQTY\tPAID\tFREE\tUNIT\tTOTAL\tNOTE")
		for i, l := range v.Lines {
			if l.Pricing == nil {
				fmt.Fprintf(w, "%d\t%s\t%d\t-\t-\t-\t-\tpricing\n", i+1, l.Code(), l.OrderedQuantity)
				continue
			}
			p := l.Pricing
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n", i+1, l.Code(), l.OrderedQuantity,
				p.PaidQuantity, p.FreeQuantity, p.FinalUnitPrice.StringFixed(2), p.LineTotal.StringFixed(2), p.SchemeLabel)
		}
		w.Flush()
		fmt.Fprintf(out, "cart total %s\n", v.Total.StringFixed(2))
	}
	if v.Degraded {
		fmt.Fprintln(out, "pricing service unavailable, showing list prices")
	}

	o := v.Order
	if o.Order.ID != "" {
		renderOrder(out, o.Order)
	}
	for _, n := range o.Notifications {
		fmt.Fprintf(out, "  * %s\n", n)
	}
	if o.Remainder != nil {
		fmt.Fprintf(out, "remainder order %s is %s\n", o.Remainder.ID, o.Remainder.Stage)
	}
	if o.LastError != nil {
		fmt.Fprintf(out, "last error: %v\n", o.LastError)
	}
}

func renderOrder(out io.Writer, o entity.Order) {
	fmt.Fprintf(out, "order %s stage %s total %s\n", o.ID, o.Stage, o.TotalAmount.StringFixed(2))
	if o.RejectReason != "" {
		fmt.Fprintf(out, "  rejected: %s\n", o.RejectReason)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, l := range o.Lines {
		confirmed := "-"
		if l.ConfirmedQuantity != nil {
			confirmed = strconv.Itoa(*l.ConfirmedQuantity)
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\tordered %d\tconfirmed %s\t%s\n", i+1, l.ItemID, l.Code, l.OrderedQuantity, confirmed, l.Pricing.LineTotal.StringFixed(2))
	}
	w.Flush()
}

// parseEdits reads confirm arguments of the form ITEM[=QTY][@LOT[,EXPIRY]][:REASON].
func parseEdits(lines []entity.OrderLine, args []string) ([]entity.ItemEdit, error) {
	edits := make([]entity.ItemEdit, 0, len(args))
	for _, arg := range args {
		var edit entity.ItemEdit
		head, reason, _ := strings.Cut(arg, ":")
		edit.Reason = reason

		head, lot, hasLot := strings.Cut(head, "@")
		if hasLot {
			edit.LotNumber, edit.ExpiryDate, _ = strings.Cut(lot, ",")
		}

		ref, qty, hasQty := strings.Cut(head, "=")
		if hasQty {
			n, err := strconv.Atoi(qty)
			if err != nil {
				return nil, fmt.Errorf("quantity %q in %q is not a number", qty, arg)
			}
			edit.RevisedQuantity = &n
		}

		id, err := resolveItem(lines, ref)
		if err != nil {
			return nil, err
		}
		edit.ItemID = id
		edits = append(edits, edit)
	}
	return edits, nil
}

// resolveItem accepts a 1-based line number, a product code or an item id.
func resolveItem(lines []entity.OrderLine, ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(lines) {
			return "", fmt.Errorf("no line %d", n)
		}
		return lines[n-1].ItemID, nil
	}
	for _, l := range lines {
		if l.ItemID == ref || strings.EqualFold(l.Code, ref) {
			return l.ItemID, nil
		}
	}
	// unknown ids are left for the lifecycle to reject
	return ref, nil
}

// splitArgs splits a command line shell style, so quoted text stays one argument.
func splitArgs(line string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("cannot read command: %w", err)
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("quote the text from %q", line[p.Position:])
	}
	return args, nil
}
