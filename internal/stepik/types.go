package stepik

import "time"

// 提交状态，Stepik 还可能返回 evaluation 等中间态，聚合时归入"其他"
const (
	StatusCorrect = "correct"
	StatusWrong   = "wrong"
)

// Submission 课程步骤的一次答题提交
type Submission struct {
	ID     int64
	StepID int
	UserID int
	Status string
	Time   time.Time
}

// Review 课程评价
type Review struct {
	ID         int
	CourseID   int
	UserID     int
	Score      int
	Text       string
	CreateDate time.Time
}

// CourseInfo 课程的上游快照，learners/certificates 为累计值
type CourseInfo struct {
	ID                int
	Title             string
	Summary           string
	Cover             string
	LearnersCount     int
	Score             float64
	CertificatesCount int
	SectionIDs        []int
}

// 以下为 Stepik API 的原始响应结构，数组外层以资源名包裹

type pageMeta struct {
	HasNext bool `json:"has_next"`
}

type submissionJSON struct {
	ID     int64  `json:"id"`
	Step   int    `json:"step"`
	User   int    `json:"user"`
	Status string `json:"status"`
	Time   string `json:"time"`
}

type submissionsPage struct {
	Submissions []submissionJSON `json:"submissions"`
	Meta        pageMeta         `json:"meta"`
}

type reviewJSON struct {
	ID         int    `json:"id"`
	Course     int    `json:"course"`
	User       int    `json:"user"`
	Score      int    `json:"score"`
	Text       string `json:"text"`
	CreateDate string `json:"create_date"`
}

type reviewsPage struct {
	CourseReviews []reviewJSON `json:"course-reviews"`
	Meta          pageMeta     `json:"meta"`
}

type courseJSON struct {
	ID                int     `json:"id"`
	Title             string  `json:"title"`
	Summary           string  `json:"summary"`
	Cover             string  `json:"cover"`
	LearnersCount     int     `json:"learners_count"`
	Score             float64 `json:"score"`
	CertificatesCount int     `json:"certificates_count"`
	Sections          []int   `json:"sections"`
}

type coursesResponse struct {
	Courses []courseJSON `json:"courses"`
}

type sectionJSON struct {
	Units []int `json:"units"`
}

type sectionsResponse struct {
	Sections []sectionJSON `json:"sections"`
}

type unitJSON struct {
	Lesson int `json:"lesson"`
}

type unitsResponse struct {
	Units []unitJSON `json:"units"`
}

type lessonJSON struct {
	Steps []int `json:"steps"`
}

type lessonsResponse struct {
	Lessons []lessonJSON `json:"lessons"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// parseTime Stepik 返回 ISO8601 时间串，解析失败时回落到当前时间
func parseTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}
