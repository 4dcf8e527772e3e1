package service

import (
	"time"

	numberingdomain "github.com/smallbiznis/reservebill/internal/numbering/domain"
	settingsdomain "github.com/smallbiznis/reservebill/internal/settings/domain"
)

type counter struct {
	prefix    string
	frequency settingsdomain.ResetFrequency
	next      *int64
	year      *int
	month     *int
}

func counterFor(s *settingsdomain.TenantInvoiceSettings, kind numberingdomain.Kind) counter {
	if kind == numberingdomain.KindCreditMemo {
		return counter{
			prefix:    s.CreditMemoPrefix,
			frequency: s.CreditMemoResetFrequency,
			next:      &s.CreditMemoNextNumber,
			year:      &s.CreditMemoLastResetYear,
			month:     &s.CreditMemoLastResetMonth,
		}
	}
	return counter{
		prefix:    s.InvoicePrefix,
		frequency: s.InvoiceResetFrequency,
		next:      &s.InvoiceNextNumber,
		year:      &s.InvoiceLastResetYear,
		month:     &s.InvoiceLastResetMonth,
	}
}

// allocate takes the next sequence value for kind, applying the reset policy
// for the period containing at, and advances the counter on s.
func allocate(s *settingsdomain.TenantInvoiceSettings, kind numberingdomain.Kind, at time.Time) (int64, string) {
	c := counterFor(s, kind)
	year, month := at.Year(), int(at.Month())

	if *c.next <= 0 || rolledOver(c.frequency, *c.year, *c.month, year, month) {
		*c.next = 1
	}

	seq := *c.next
	*c.next = seq + 1
	*c.year = year
	*c.month = month
	return seq, c.prefix
}

func rolledOver(freq settingsdomain.ResetFrequency, lastYear, lastMonth, year, month int) bool {
	if lastYear == 0 {
		return false
	}
	switch freq {
	case settingsdomain.ResetYearly:
		return lastYear != year
	case settingsdomain.ResetMonthly:
		return lastYear != year || lastMonth != month
	default:
		return false
	}
}
