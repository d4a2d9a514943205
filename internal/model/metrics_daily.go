package model

import "time"

// MetricsDaily 课程的单日指标行，(course_id, date) 唯一
// 同步合并采用UPSERT语义：同一天的行只会被更新，不会重复创建
// swagger:model MetricsDaily
type MetricsDaily struct {
	ID       uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	CourseID string    `gorm:"type:varchar(36);uniqueIndex:idx_course_date;not null" json:"courseId"`
	Date     time.Time `gorm:"type:date;uniqueIndex:idx_course_date;not null" json:"date"`

	TotalSubmissions   int `gorm:"default:0" json:"totalSubmissions"`
	CorrectSubmissions int `gorm:"default:0" json:"correctSubmissions"`
	WrongSubmissions   int `gorm:"default:0" json:"wrongSubmissions"`

	// 当日有提交行为的去重用户数
	ActiveLearnersDau int `gorm:"default:0" json:"activeLearnersDau"`

	// 单日归因的估算值：整个窗口的增量记在最近一天上
	NewLearners  int `gorm:"default:0" json:"newLearners"`
	Certificates int `gorm:"default:0" json:"certificates"`

	ReviewsCount int     `gorm:"default:0" json:"reviewsCount"`
	ReviewsAvg   float64 `gorm:"default:0" json:"reviewsAvg"`

	RatingValue float64 `gorm:"default:0" json:"ratingValue"`
	RatingDelta float64 `gorm:"default:0" json:"ratingDelta"` // 相对前一日的变化

	ReputationDelta int `gorm:"default:0" json:"reputationDelta"`
	KnowledgeDelta  int `gorm:"default:0" json:"knowledgeDelta"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (MetricsDaily) TableName() string {
	return "metrics_daily"
}
