package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"stepik_analytics_backend/internal/model"
	"stepik_analytics_backend/internal/stepik"
	"stepik_analytics_backend/internal/util"
	"stepik_analytics_backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	m.Run()
}

// ---- 内存实现，满足 stores.go 的契约 ----

type fakeCourseStore struct {
	courses map[string]*model.Course
}

func newFakeCourseStore(courses ...*model.Course) *fakeCourseStore {
	s := &fakeCourseStore{courses: make(map[string]*model.Course)}
	for _, c := range courses {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		s.courses[c.ID] = c
	}
	return s
}

func (s *fakeCourseStore) Create(course *model.Course) error {
	if course.ID == "" {
		course.ID = uuid.New().String()
	}
	s.courses[course.ID] = course
	return nil
}

func (s *fakeCourseStore) FindByID(id string) (*model.Course, error) {
	c, ok := s.courses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (s *fakeCourseStore) FindByStepikID(stepikCourseID int) (*model.Course, error) {
	for _, c := range s.courses {
		if c.StepikCourseID == stepikCourseID {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeCourseStore) FindAll() ([]model.Course, error) {
	out := make([]model.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeCourseStore) FindEnabled() ([]model.Course, error) {
	var out []model.Course
	for _, c := range s.courses {
		if c.IsEnabled {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeCourseStore) Update(course *model.Course) error {
	s.courses[course.ID] = course
	return nil
}

func (s *fakeCourseStore) Delete(id string) error {
	if _, ok := s.courses[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(s.courses, id)
	return nil
}

type fakeMetricsStore struct {
	rows []model.MetricsDaily
}

func (s *fakeMetricsStore) FindByCourseAndDate(courseID string, date time.Time) (*model.MetricsDaily, error) {
	for i := range s.rows {
		if s.rows[i].CourseID == courseID && s.rows[i].Date.Equal(date) {
			row := s.rows[i]
			return &row, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeMetricsStore) FindRange(courseID string, from, to time.Time) ([]model.MetricsDaily, error) {
	var out []model.MetricsDaily
	for _, r := range s.rows {
		if r.CourseID == courseID && !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *fakeMetricsStore) FindLatest(courseID string) (*model.MetricsDaily, error) {
	var latest *model.MetricsDaily
	for i := range s.rows {
		r := &s.rows[i]
		if r.CourseID != courseID {
			continue
		}
		if latest == nil || r.Date.After(latest.Date) {
			latest = r
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	row := *latest
	return &row, nil
}

func (s *fakeMetricsStore) FindLatestBefore(courseID string, date time.Time) (*model.MetricsDaily, error) {
	var latest *model.MetricsDaily
	for i := range s.rows {
		r := &s.rows[i]
		if r.CourseID != courseID || !r.Date.Before(date) {
			continue
		}
		if latest == nil || r.Date.After(latest.Date) {
			latest = r
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	row := *latest
	return &row, nil
}

func (s *fakeMetricsStore) Upsert(m *model.MetricsDaily) error {
	for i := range s.rows {
		if s.rows[i].CourseID == m.CourseID && s.rows[i].Date.Equal(m.Date) {
			s.rows[i] = *m
			return nil
		}
	}
	s.rows = append(s.rows, *m)
	return nil
}

type fakeSyncRunStore struct {
	runs []*model.SyncRun
}

func (s *fakeSyncRunStore) Create(run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeSyncRunStore) Update(run *model.SyncRun) error {
	for i, r := range s.runs {
		if r.ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakeSyncRunStore) FindRecent(courseID string, limit int) ([]model.SyncRun, error) {
	var out []model.SyncRun
	for _, r := range s.runs {
		if courseID == "" || r.CourseID == courseID {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSyncRunStore) FindLatestByCourse(courseID string) (*model.SyncRun, error) {
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].CourseID == courseID {
			run := *s.runs[i]
			return &run, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeStepikAPI struct {
	info    *stepik.CourseInfo
	infoErr error

	subs    []stepik.Submission
	subsErr error

	reviews    []stepik.Review
	reviewsErr error
}

func (f *fakeStepikAPI) Course(_ context.Context, _ int) (*stepik.CourseInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeStepikAPI) Submissions(_ context.Context, _ int, _ time.Time) ([]stepik.Submission, error) {
	return f.subs, f.subsErr
}

func (f *fakeStepikAPI) CourseReviews(_ context.Context, _ int, _ time.Time) ([]stepik.Review, error) {
	return f.reviews, f.reviewsErr
}

// ---- 聚合 ----

func TestAggregateDailyBucketsByDay(t *testing.T) {
	day1 := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day1.AddDate(0, 0, 2)

	subs := []stepik.Submission{
		{ID: 1, UserID: 10, Status: stepik.StatusCorrect, Time: day1.Add(9 * time.Hour)},
		{ID: 2, UserID: 10, Status: stepik.StatusWrong, Time: day1.Add(10 * time.Hour)},
		{ID: 3, UserID: 20, Status: stepik.StatusCorrect, Time: day1.Add(11 * time.Hour)},
		{ID: 4, UserID: 30, Status: "evaluation", Time: day3.Add(8 * time.Hour)},
	}
	reviews := []stepik.Review{
		{ID: 1, UserID: 10, Score: 5, CreateDate: day1.Add(12 * time.Hour)},
		{ID: 2, UserID: 20, Score: 4, CreateDate: day1.Add(13 * time.Hour)},
	}

	buckets := aggregateDaily(subs, reviews, day1, day3)
	require.Len(t, buckets, 3)

	b1 := buckets[day1]
	require.Equal(t, 3, b1.totalSubmissions)
	require.Equal(t, 2, b1.correctSubmissions)
	require.Equal(t, 1, b1.wrongSubmissions)
	require.Equal(t, 2, b1.activeUsers) // 用户10提交两次只算一个
	require.Equal(t, 2, b1.reviewsCount)
	require.InDelta(t, 4.5, b1.reviewsAvg, 1e-9)

	// 没有任何记录的日子也有桶，计数全零
	b2 := buckets[day2]
	require.Equal(t, 0, b2.totalSubmissions)
	require.Equal(t, 0, b2.activeUsers)
	require.Equal(t, 0, b2.reviewsCount)

	// 中间态提交计入总数但不计入对错
	b3 := buckets[day3]
	require.Equal(t, 1, b3.totalSubmissions)
	require.Equal(t, 0, b3.correctSubmissions)
	require.Equal(t, 0, b3.wrongSubmissions)
}

// ---- 同步流水线 ----

func newCollectorForTest(course *model.Course, api StepikAPI) (*CollectorService, *fakeCourseStore, *fakeMetricsStore, *fakeSyncRunStore) {
	courses := newFakeCourseStore(course)
	metrics := &fakeMetricsStore{}
	runs := &fakeSyncRunStore{}
	svc := NewCollectorService(courses, metrics, runs, api, nil, 2)
	return svc, courses, metrics, runs
}

func TestSyncCourseWritesDailyRowsAndRun(t *testing.T) {
	today := util.TruncateDay(time.Now())
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}

	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, Title: "Go Basics", Summary: "intro", LearnersCount: 100, Score: 4.5, CertificatesCount: 7},
		subs: []stepik.Submission{
			{ID: 1, UserID: 10, Status: stepik.StatusCorrect, Time: today.Add(-20 * time.Hour)},
			{ID: 2, UserID: 20, Status: stepik.StatusWrong, Time: today.Add(2 * time.Hour)},
		},
		reviews: []stepik.Review{
			{ID: 1, UserID: 10, Score: 5, CreateDate: today.Add(time.Hour)},
		},
	}

	svc, courses, metrics, runs := newCollectorForTest(course, api)

	run, err := svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)
	require.Equal(t, model.SyncStatusOK, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, 3, run.FetchedItemsCount)
	require.Len(t, runs.runs, 1)

	// 回溯2天 + 今天，窗口内每天一行
	require.Len(t, metrics.rows, 3)
	rows, err := metrics.FindRange(course.ID, today.AddDate(0, 0, -2), today)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, 1, rows[1].TotalSubmissions)
	require.Equal(t, 1, rows[1].CorrectSubmissions)
	require.Equal(t, 1, rows[2].WrongSubmissions)
	require.Equal(t, 1, rows[2].ReviewsCount)
	require.InDelta(t, 5.0, rows[2].ReviewsAvg, 1e-9)

	// 课程快照被回填，LastSyncedAt 推进
	updated, err := courses.FindByID(course.ID)
	require.NoError(t, err)
	require.Equal(t, "Go Basics", updated.Title)
	require.NotNil(t, updated.LastSyncedAt)
}

func TestSyncCourseRatingDeltaChainsFromBaseline(t *testing.T) {
	today := util.TruncateDay(time.Now())
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}

	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, Title: "Go", Score: 4.5, LearnersCount: 50},
	}

	svc, _, metrics, _ := newCollectorForTest(course, api)

	// 窗口之前已有一行，评分4.0，作为首日增量的基线
	require.NoError(t, metrics.Upsert(&model.MetricsDaily{
		CourseID:    course.ID,
		Date:        today.AddDate(0, 0, -5),
		RatingValue: 4.0,
	}))

	_, err := svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)

	rows, err := metrics.FindRange(course.ID, today.AddDate(0, 0, -2), today)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// 首日相对基线 +0.5，之后评分不变增量归零
	require.InDelta(t, 0.5, rows[0].RatingDelta, 1e-9)
	require.InDelta(t, 0.0, rows[1].RatingDelta, 1e-9)
	require.InDelta(t, 0.0, rows[2].RatingDelta, 1e-9)
}

func TestSyncCourseRatingDeltaZeroWithoutBaseline(t *testing.T) {
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}
	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, Score: 4.5},
	}

	svc, _, metrics, _ := newCollectorForTest(course, api)

	_, err := svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)

	today := util.TruncateDay(time.Now())
	rows, err := metrics.FindRange(course.ID, today.AddDate(0, 0, -2), today)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	require.InDelta(t, 0.0, rows[0].RatingDelta, 1e-9)
}

func TestSyncCourseAttributesGrowthToLatestDay(t *testing.T) {
	today := util.TruncateDay(time.Now())
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}

	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, LearnersCount: 100, CertificatesCount: 7},
	}

	svc, _, metrics, _ := newCollectorForTest(course, api)

	_, err := svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)

	latest, err := metrics.FindLatest(course.ID)
	require.NoError(t, err)
	require.Equal(t, today, latest.Date)
	require.Equal(t, 100, latest.NewLearners)
	require.Equal(t, 7, latest.Certificates)

	// 此前的日子没有增长数据
	before, err := metrics.FindLatestBefore(course.ID, latest.Date)
	require.NoError(t, err)
	require.Equal(t, 0, before.NewLearners)
}

func TestSyncCourseFailureMarksRunFailed(t *testing.T) {
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}
	api := &fakeStepikAPI{
		info:       &stepik.CourseInfo{ID: 42},
		reviewsErr: util.ErrUpstream,
	}

	svc, _, _, runs := newCollectorForTest(course, api)

	run, err := svc.SyncCourse(context.Background(), course.ID)
	require.ErrorIs(t, err, util.ErrUpstream)
	require.NotNil(t, run)
	require.Equal(t, model.SyncStatusFailed, run.Status)
	require.NotEmpty(t, run.ErrorText)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, runs.runs, 1)
}

func TestSyncCourseUnknownCourse(t *testing.T) {
	svc, _, _, runs := newCollectorForTest(&model.Course{StepikCourseID: 1}, &fakeStepikAPI{})

	_, err := svc.SyncCourse(context.Background(), "missing-id")
	require.ErrorIs(t, err, util.ErrCourseNotFound)
	require.Empty(t, runs.runs)
}

func TestSyncCourseToleratesMissingStructure(t *testing.T) {
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}
	api := &fakeStepikAPI{
		info:    &stepik.CourseInfo{ID: 42},
		subsErr: util.ErrCourseNotFound,
		reviews: []stepik.Review{
			{ID: 1, Score: 4, CreateDate: time.Now().UTC()},
		},
	}

	svc, _, _, _ := newCollectorForTest(course, api)

	run, err := svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)
	require.Equal(t, model.SyncStatusOK, run.Status)
	require.Equal(t, 1, run.FetchedItemsCount)
}

func TestSyncCourseIsIdempotentPerDay(t *testing.T) {
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}
	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, Score: 4.5},
		subs: []stepik.Submission{
			{ID: 1, UserID: 10, Status: stepik.StatusCorrect, Time: time.Now().UTC()},
		},
	}

	svc, _, metrics, runs := newCollectorForTest(course, api)

	_, err := svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)
	rowsAfterFirst := len(metrics.rows)

	_, err = svc.SyncCourse(context.Background(), course.ID)
	require.NoError(t, err)

	// 再次同步覆盖同一批日期行，不产生重复
	require.Equal(t, rowsAfterFirst, len(metrics.rows))
	require.Len(t, runs.runs, 2)
}

func TestSyncAllCoursesContinuesOnFailure(t *testing.T) {
	good := &model.Course{StepikCourseID: 1, IsEnabled: true}
	bad := &model.Course{StepikCourseID: 2, IsEnabled: true}
	disabled := &model.Course{StepikCourseID: 3, IsEnabled: false}

	courses := newFakeCourseStore(good, bad, disabled)
	metrics := &fakeMetricsStore{}
	runs := &fakeSyncRunStore{}

	api := &flakyStepikAPI{failCourseID: 2}
	svc := NewCollectorService(courses, metrics, runs, api, nil, 2)

	svc.SyncAllCourses(context.Background())

	// 启用的两门课各跑一次，失败不阻断，禁用的不参与
	require.Len(t, runs.runs, 2)
	statuses := map[string]int{}
	for _, r := range runs.runs {
		statuses[r.Status]++
	}
	require.Equal(t, 1, statuses[model.SyncStatusOK])
	require.Equal(t, 1, statuses[model.SyncStatusFailed])
}

type flakyStepikAPI struct {
	failCourseID int
}

func (f *flakyStepikAPI) Course(_ context.Context, courseID int) (*stepik.CourseInfo, error) {
	if courseID == f.failCourseID {
		return nil, errors.New("upstream down")
	}
	return &stepik.CourseInfo{ID: courseID}, nil
}

func (f *flakyStepikAPI) Submissions(_ context.Context, _ int, _ time.Time) ([]stepik.Submission, error) {
	return nil, nil
}

func (f *flakyStepikAPI) CourseReviews(_ context.Context, _ int, _ time.Time) ([]stepik.Review, error) {
	return nil, nil
}
