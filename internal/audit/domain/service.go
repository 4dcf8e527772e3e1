package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/pkg/db/pagination"
	"github.com/smallbiznis/reservebill/pkg/errs"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string     `form:"action"`
	TargetType string     `form:"target_type"`
	TargetID   string     `form:"target_id"`
	ActorType  string     `form:"actor_type"`
	StartAt    *time.Time `form:"start_at" time_format:"2006-01-02T15:04:05Z07:00"`
	EndAt      *time.Time `form:"end_at" time_format:"2006-01-02T15:04:05Z07:00"`
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, tenantID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidTenant    = errs.Mark(errors.New("invalid_tenant"), errs.ErrValidation)
	ErrInvalidPageToken = errs.Mark(errors.New("invalid_page_token"), errs.ErrValidation)
	ErrInvalidTimeRange = errs.Mark(errors.New("invalid_time_range"), errs.ErrValidation)
	ErrInvalidAction    = errs.Mark(errors.New("invalid_action"), errs.ErrValidation)
)
