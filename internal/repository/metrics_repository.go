package repository

import (
	"stepik_analytics_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

// MetricsRepository 日指标表的读写，所有操作以 (course_id, date) 为键
type MetricsRepository struct {
	DB *gorm.DB
}

func NewMetricsRepository(db *gorm.DB) *MetricsRepository {
	return &MetricsRepository{DB: db}
}

func (r *MetricsRepository) FindByCourseAndDate(courseID string, date time.Time) (*model.MetricsDaily, error) {
	var m model.MetricsDaily
	err := r.DB.Where("course_id = ? AND date = ?", courseID, date).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindRange 返回闭区间 [from, to] 内的行，日期升序
func (r *MetricsRepository) FindRange(courseID string, from, to time.Time) ([]model.MetricsDaily, error) {
	var metrics []model.MetricsDaily
	err := r.DB.
		Where("course_id = ? AND date >= ? AND date <= ?", courseID, from, to).
		Order("date").
		Find(&metrics).Error
	return metrics, err
}

func (r *MetricsRepository) FindLatest(courseID string) (*model.MetricsDaily, error) {
	var m model.MetricsDaily
	err := r.DB.Where("course_id = ?", courseID).Order("date DESC").First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindLatestBefore 返回指定日期之前最近的一行，作为增量计算的基线
func (r *MetricsRepository) FindLatestBefore(courseID string, date time.Time) (*model.MetricsDaily, error) {
	var m model.MetricsDaily
	err := r.DB.Where("course_id = ? AND date < ?", courseID, date).Order("date DESC").First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert 保存一行；ID为零时创建，否则原地更新，保证同一天至多一行
func (r *MetricsRepository) Upsert(m *model.MetricsDaily) error {
	return r.DB.Save(m).Error
}
