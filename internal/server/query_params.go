package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

// Query parsers report failures as a validation error on field, coded
// invalid_<field>. Blank input yields nil.

func queryBool(field, value string) (*bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil, invalidField(field)
	}
	return &parsed, nil
}

func queryID(field, value string) (*snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(value)
	if err != nil || parsed <= 0 {
		return nil, invalidField(field)
	}
	return &parsed, nil
}

// queryTime accepts RFC3339 or a bare UTC date. A bare date covers the
// whole day: its first instant, or its last when endOfDay is set.
func queryTime(field, value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return &parsed, nil
	}
	day, err := time.ParseInLocation(dateOnlyLayout, value, time.UTC)
	if err != nil {
		return nil, invalidField(field)
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}

// pathID reads the :id segment.
func pathID(c *gin.Context) (snowflake.ID, error) {
	id, err := queryID("id", c.Param("id"))
	if err != nil || id == nil {
		return 0, invalidField("id")
	}
	return *id, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func invalidField(field string) error {
	return newValidationError(field, "invalid_"+field, "invalid "+field)
}
