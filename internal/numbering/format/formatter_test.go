package format

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDefaultTemplate(t *testing.T) {
	at := time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC)

	got, err := Format(DefaultTemplate, "INV", at, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "INV-2025-00001", got)
}

func TestFormatTokens(t *testing.T) {
	at := time.Date(2026, time.November, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		template string
		seq      int64
		padding  int
		want     string
	}{
		{"{PREFIX}/{YY}{MONTH}/{NUMBER}", 42, 4, "CM/2611/0042"},
		{"{NUMBER}", 123456, 3, "123456"},
		{"BILL {YEAR}-{MONTH} #{NUMBER}", 7, 0, "BILL 2026-11 #7"},
	}
	for _, tc := range cases {
		got, err := Format(tc.template, "CM", at, tc.seq, tc.padding)
		require.NoError(t, err, tc.template)
		assert.Equal(t, tc.want, got)
	}
}

func TestFormatRejectsUnknownOrBrokenTokens(t *testing.T) {
	at := time.Now()
	for _, template := range []string{
		"{PREFIX}-{DAY}-{NUMBER}",
		"{PREFIX}-{NUMBER",
		"INV}-{NUMBER}",
		"{%s}{NUMBER}",
		"",
	} {
		_, err := Format(template, "INV", at, 1, 5)
		assert.True(t, errors.Is(err, ErrInvalidTemplate), template)
	}

	_, err := Format(DefaultTemplate, "INV", at, 0, 5)
	assert.Error(t, err)
}

func TestValidateRequiresNumber(t *testing.T) {
	assert.NoError(t, Validate("{PREFIX}-{NUMBER}"))
	assert.True(t, errors.Is(Validate("{PREFIX}-{YEAR}"), ErrInvalidTemplate))
}
