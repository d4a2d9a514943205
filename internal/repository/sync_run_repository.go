package repository

import (
	"stepik_analytics_backend/internal/model"

	"gorm.io/gorm"
)

type SyncRunRepository struct {
	DB *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{DB: db}
}

func (r *SyncRunRepository) Create(run *model.SyncRun) error {
	return r.DB.Create(run).Error
}

func (r *SyncRunRepository) Update(run *model.SyncRun) error {
	return r.DB.Save(run).Error
}

// FindRecent 同步历史，courseID 为空时返回全部课程的记录
func (r *SyncRunRepository) FindRecent(courseID string, limit int) ([]model.SyncRun, error) {
	query := r.DB.Model(&model.SyncRun{})
	if courseID != "" {
		query = query.Where("course_id = ?", courseID)
	}

	var runs []model.SyncRun
	err := query.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// FindLatestByCourse 课程最近一次同步，未同步过返回 gorm.ErrRecordNotFound
func (r *SyncRunRepository) FindLatestByCourse(courseID string) (*model.SyncRun, error) {
	var run model.SyncRun
	err := r.DB.Where("course_id = ?", courseID).Order("started_at DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}
