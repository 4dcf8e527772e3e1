package errs_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/pkg/errs"
	"github.com/stretchr/testify/assert"
)

var errWidgetMissing = errs.Mark(errors.New("widget_missing"), errs.ErrNotFound)

func TestMarkedSentinelKeepsIdentityAndKind(t *testing.T) {
	wrapped := errors.Wrap(errWidgetMissing, "load widget")

	assert.True(t, errors.Is(wrapped, errWidgetMissing))
	assert.True(t, errs.IsNotFound(wrapped))
	assert.False(t, errs.IsInvalidState(wrapped))
	assert.Equal(t, errs.ErrNotFound, errs.Kind(wrapped))
}

func TestKindOfUnmarkedError(t *testing.T) {
	assert.Nil(t, errs.Kind(errors.New("boom")))
	assert.Nil(t, errs.Kind(nil))
}
