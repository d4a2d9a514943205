package service

import (
	"context"
	"stepik_analytics_backend/internal/model"
	"stepik_analytics_backend/internal/stepik"
	"time"
)

// 服务层依赖的存取契约。repository 包的实现满足这些接口，
// 测试中以内存实现替代。

type CourseStore interface {
	Create(course *model.Course) error
	FindByID(id string) (*model.Course, error)
	FindByStepikID(stepikCourseID int) (*model.Course, error)
	FindAll() ([]model.Course, error)
	FindEnabled() ([]model.Course, error)
	Update(course *model.Course) error
	Delete(id string) error
}

// MetricsStore 日指标行的键值访问，(courseID, date) 唯一
type MetricsStore interface {
	FindByCourseAndDate(courseID string, date time.Time) (*model.MetricsDaily, error)
	FindRange(courseID string, from, to time.Time) ([]model.MetricsDaily, error)
	FindLatest(courseID string) (*model.MetricsDaily, error)
	FindLatestBefore(courseID string, date time.Time) (*model.MetricsDaily, error)
	Upsert(m *model.MetricsDaily) error
}

type SyncRunStore interface {
	Create(run *model.SyncRun) error
	Update(run *model.SyncRun) error
	FindRecent(courseID string, limit int) ([]model.SyncRun, error)
	FindLatestByCourse(courseID string) (*model.SyncRun, error)
}

// StepikAPI 上游客户端契约，stepik.Client 是生产实现
type StepikAPI interface {
	Course(ctx context.Context, courseID int) (*stepik.CourseInfo, error)
	Submissions(ctx context.Context, courseID int, since time.Time) ([]stepik.Submission, error)
	CourseReviews(ctx context.Context, courseID int, since time.Time) ([]stepik.Review, error)
}
