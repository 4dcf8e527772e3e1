// Package domain defines the milestone chaining contracts.
package domain

import (
	"context"
	"time"

	invoicedomain "github.com/smallbiznis/reservebill/internal/invoice/domain"
)

// chain lists the successor billed once a milestone invoice is paid.
var chain = map[invoicedomain.MilestoneType]invoicedomain.MilestoneType{
	invoicedomain.MilestoneDeposit:             invoicedomain.MilestoneSiteVisitComplete,
	invoicedomain.MilestoneSiteVisitComplete:   invoicedomain.MilestoneDraftReportDelivery,
	invoicedomain.MilestoneDraftReportDelivery: invoicedomain.MilestoneFinalDelivery,
}

// NextMilestone returns the milestone that follows m, if any.
func NextMilestone(m invoicedomain.MilestoneType) (invoicedomain.MilestoneType, bool) {
	next, ok := chain[m]
	return next, ok
}

type Service interface {
	// TryGenerateNextMilestone creates the successor invoice of a paid
	// milestone invoice. It never fails the caller: errors are logged and
	// nil is returned.
	TryGenerateNextMilestone(ctx context.Context, paid *invoicedomain.Invoice) *invoicedomain.Invoice
}

// Locker is a cross-process mutex keyed by string.
type Locker interface {
	// Acquire returns ok=false when another holder has the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
