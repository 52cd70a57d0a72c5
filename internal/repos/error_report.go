package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shelfsight/shelfsight-backend/internal/logger"
	"github.com/shelfsight/shelfsight-backend/internal/types"
)

type ErrorReportRepo interface {
	Create(ctx context.Context, tx *gorm.DB, report *types.ErrorReport) (*types.ErrorReport, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ErrorReport, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error
}

type errorReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewErrorReportRepo(db *gorm.DB, baseLog *logger.Logger) ErrorReportRepo {
	return &errorReportRepo{db: db, log: baseLog.With("repo", "ErrorReportRepo")}
}

func (r *errorReportRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *errorReportRepo) Create(ctx context.Context, tx *gorm.DB, report *types.ErrorReport) (*types.ErrorReport, error) {
	if err := r.conn(tx).WithContext(ctx).Create(report).Error; err != nil {
		return nil, err
	}
	return report, nil
}

func (r *errorReportRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ErrorReport, error) {
	var report types.ErrorReport
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&report).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *errorReportRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.ErrorReport{}).
		Where("id = ?", id).
		Update("status", status).Error
}
