package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
	"github.com/smallbiznis/reservebill/pkg/db/pagination"
)

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	tenantID, err := s.tenantIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	if req.Status != nil && !req.Status.Valid() {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidStatusFilter
	}

	cursor, err := decodeListCursor(req.PageToken)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	limit := req.Limit()
	filter := invoicedomain.ListFilter{
		TenantID: tenantID,
		Status:   req.Status,
		StudyID:  req.StudyID,
		Cursor:   cursor,
		Limit:    limit,
	}
	if req.Overdue {
		now := s.clock.Now()
		filter.OverdueAt = &now
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	items, pageInfo := pagination.Trim(items, limit, func(item *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	lines, err := s.repo.ListLineItems(ctx, s.db, ids...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}
	byInvoice := make(map[snowflake.ID][]invoicedomain.LineItem, len(items))
	for _, line := range lines {
		byInvoice[line.InvoiceID] = append(byInvoice[line.InvoiceID], line)
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		item.LineItems = byInvoice[item.ID]
		invoices = append(invoices, *item)
	}
	return invoicedomain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

func decodeListCursor(token string) (*invoicedomain.ListCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, invoicedomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, invoicedomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, invoicedomain.ErrInvalidPageToken
	}
	return &invoicedomain.ListCursor{ID: id, CreatedAt: createdAt}, nil
}
