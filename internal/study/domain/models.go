// Package domain models the reserve-study records the billing engine reads:
// the study with its billing contact and the per-milestone fee schedule.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Study struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID       snowflake.ID   `json:"tenant_id" gorm:"not null;index"`
	Name           string         `json:"name"`
	PropertyName   string         `json:"property_name"`
	ContactName    string         `json:"contact_name"`
	ContactEmail   string         `json:"contact_email"`
	ContactAddress string         `json:"contact_address"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName sets the database table name.
func (Study) TableName() string { return "reserve_studies" }

// ScheduledLine is one fee line planned for a study milestone.
type ScheduledLine struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID    `json:"tenant_id" gorm:"not null;index"`
	StudyID       snowflake.ID    `json:"study_id" gorm:"not null;index"`
	MilestoneType string          `json:"milestone_type" gorm:"type:text;not null"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:numeric(14,4)"`
	UnitPrice     decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2)"`
	Position      int             `json:"position"`
}

// TableName sets the database table name.
func (ScheduledLine) TableName() string { return "study_milestone_schedules" }

// Directory resolves studies for bill-to snapshots. GetStudy returns nil
// when the study does not exist for the tenant.
type Directory interface {
	GetStudy(ctx context.Context, tenantID, studyID snowflake.ID) (*Study, error)
}

// Workflow supplies the line items of the next milestone document.
type Workflow interface {
	NextMilestoneLineItems(ctx context.Context, tenantID, studyID snowflake.ID, milestone string) ([]ScheduledLine, error)
}
