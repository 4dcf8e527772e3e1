package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	checkoutdomain "github.com/smallbiznis/reservebill/internal/checkout/domain"
	creditmemodomain "github.com/smallbiznis/reservebill/internal/creditmemo/domain"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
)

// FakeGateway records session requests and mints sequential session ids.
type FakeGateway struct {
	mu       sync.Mutex
	Requests []checkoutdomain.SessionRequest
	Err      error
	seq      int
}

func (g *FakeGateway) CreateCheckoutSession(ctx context.Context, req checkoutdomain.SessionRequest) (*checkoutdomain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	g.seq++
	g.Requests = append(g.Requests, req)
	id := fmt.Sprintf("cs_test_%d", g.seq)
	return &checkoutdomain.Session{
		ID:        id,
		URL:       "https://checkout.test/pay/" + id,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

func (g *FakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

func (g *FakeGateway) Last() checkoutdomain.SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Requests) == 0 {
		return checkoutdomain.SessionRequest{}
	}
	return g.Requests[len(g.Requests)-1]
}

type Receipt struct {
	InvoiceID  string
	AmountPaid decimal.Decimal
	Reference  string
}

// FakeNotifier captures every notification it is asked to send.
type FakeNotifier struct {
	mu            sync.Mutex
	Sent          []string
	Receipts      []Receipt
	AutoGenerated []string
	Err           error
}

func (n *FakeNotifier) SendInvoice(ctx context.Context, invoice *invoicedomain.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, invoice.InvoiceNumber)
	return n.Err
}

func (n *FakeNotifier) SendReceipt(ctx context.Context, invoice *invoicedomain.Invoice, amountPaid decimal.Decimal, reference string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Receipts = append(n.Receipts, Receipt{InvoiceID: invoice.ID.String(), AmountPaid: amountPaid, Reference: reference})
	return n.Err
}

func (n *FakeNotifier) SendAutoGeneratedNotice(ctx context.Context, invoice *invoicedomain.Invoice, previous *invoicedomain.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.AutoGenerated = append(n.AutoGenerated, invoice.InvoiceNumber)
	return n.Err
}

func (n *FakeNotifier) ReceiptCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Receipts)
}

// FakeRefunder records refund requests.
type FakeRefunder struct {
	mu       sync.Mutex
	Requests []creditmemodomain.RefundRequest
	Err      error
}

func (r *FakeRefunder) Refund(ctx context.Context, req creditmemodomain.RefundRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests = append(r.Requests, req)
	if r.Err != nil {
		return "", r.Err
	}
	return fmt.Sprintf("re_test_%d", len(r.Requests)), nil
}

// FakeLocker is an in-process Locker.
type FakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *FakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return func() {}, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}
