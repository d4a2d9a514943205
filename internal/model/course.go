package model

import "time"

// Course 被跟踪的Stepik课程
// swagger:model Course
type Course struct {
	UUIDBase
	StepikCourseID int        `gorm:"uniqueIndex;not null" json:"stepikCourseId"`
	Title          string     `gorm:"size:500" json:"title"`
	Description    string     `gorm:"type:text" json:"description"`
	CoverURL       string     `gorm:"size:1000" json:"coverUrl"`
	IsEnabled      bool       `gorm:"default:true" json:"isEnabled"` // 是否参与定时同步
	LastSyncedAt   *time.Time `json:"lastSyncedAt"`

	SyncRuns     []SyncRun      `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
	DailyMetrics []MetricsDaily `gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Course) TableName() string {
	return "courses"
}
