package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservebill/internal/study/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func provide(db *gorm.DB) *repo {
	return &repo{db: db}
}

func ProvideDirectory(db *gorm.DB) domain.Directory {
	return provide(db)
}

func ProvideWorkflow(db *gorm.DB) domain.Workflow {
	return provide(db)
}

func (r *repo) GetStudy(ctx context.Context, tenantID, studyID snowflake.ID) (*domain.Study, error) {
	var study domain.Study
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, studyID).
		Limit(1).
		Find(&study).Error
	if err != nil {
		return nil, err
	}
	if study.ID == 0 {
		return nil, nil
	}
	return &study, nil
}

func (r *repo) NextMilestoneLineItems(ctx context.Context, tenantID, studyID snowflake.ID, milestone string) ([]domain.ScheduledLine, error) {
	var lines []domain.ScheduledLine
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND study_id = ? AND milestone_type = ?", tenantID, studyID, milestone).
		Order("position asc, id asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}
