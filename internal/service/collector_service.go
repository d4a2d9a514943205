package service

import (
	"context"
	"errors"
	"fmt"
	"stepik_analytics_backend/internal/model"
	"stepik_analytics_backend/internal/stepik"
	"stepik_analytics_backend/internal/util"
	"stepik_analytics_backend/pkg/logger"
	"stepik_analytics_backend/pkg/monitoring"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// dayBucket 单日的聚合结果，纯内存，不落库
type dayBucket struct {
	totalSubmissions   int
	correctSubmissions int
	wrongSubmissions   int
	activeUsers        int
	reviewsCount       int
	reviewsAvg         float64
}

// CollectorService 同步流水线：抓取 → 按日聚合 → 合并入库，
// 每次调用对应一条 SyncRun 生命周期记录
type CollectorService struct {
	CourseRepo   CourseStore
	MetricsRepo  MetricsStore
	SyncRunRepo  SyncRunStore
	Stepik       StepikAPI
	Metrics      *MetricsService
	BackfillDays int
}

func NewCollectorService(
	courseRepo CourseStore,
	metricsRepo MetricsStore,
	syncRunRepo SyncRunStore,
	api StepikAPI,
	metricsService *MetricsService,
	backfillDays int,
) *CollectorService {
	if backfillDays <= 0 {
		backfillDays = 30
	}
	return &CollectorService{
		CourseRepo:   courseRepo,
		MetricsRepo:  metricsRepo,
		SyncRunRepo:  syncRunRepo,
		Stepik:       api,
		Metrics:      metricsService,
		BackfillDays: backfillDays,
	}
}

// SyncCourse 同步单个课程。
// 先落一条 running 状态的记录再开始抓取，进程崩溃后仍可观测到未完成的运行；
// 失败时记录错误并原样上抛，由外部调度方决定重试策略。
func (s *CollectorService) SyncCourse(ctx context.Context, courseID string) (*model.SyncRun, error) {
	course, err := s.CourseRepo.FindByID(courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", util.ErrCourseNotFound, courseID)
		}
		return nil, fmt.Errorf("%w: %v", util.ErrStore, err)
	}

	run := &model.SyncRun{
		CourseID:  course.ID,
		StartedAt: time.Now().UTC(),
		Status:    model.SyncStatusRunning,
	}
	if err := s.SyncRunRepo.Create(run); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrStore, err)
	}

	started := time.Now()

	if err := s.collect(ctx, course, run); err != nil {
		s.finishRun(run, model.SyncStatusFailed, err.Error())
		monitoring.SyncRunsTotal.WithLabelValues(model.SyncStatusFailed).Inc()
		logger.Log.Error("course sync failed",
			zap.String("courseId", course.ID),
			zap.Int("stepikCourseId", course.StepikCourseID),
			zap.Error(err))
		return run, err
	}

	s.finishRun(run, model.SyncStatusOK, "")
	monitoring.SyncRunsTotal.WithLabelValues(model.SyncStatusOK).Inc()
	monitoring.SyncDuration.Observe(time.Since(started).Seconds())
	logger.Log.Info("course sync completed",
		zap.String("courseId", course.ID),
		zap.Int("fetchedItems", run.FetchedItemsCount))
	return run, nil
}

// SyncAllCourses 定时任务入口：顺序同步所有启用的课程，
// 单个课程失败只记录日志，不中断整轮
func (s *CollectorService) SyncAllCourses(ctx context.Context) {
	courses, err := s.CourseRepo.FindEnabled()
	if err != nil {
		logger.Log.Error("failed to list enabled courses", zap.Error(err))
		return
	}

	logger.Log.Info("starting scheduled sync", zap.Int("courses", len(courses)))

	for _, course := range courses {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.SyncCourse(ctx, course.ID); err != nil {
			logger.Log.Error("scheduled sync failed for course",
				zap.String("courseId", course.ID), zap.Error(err))
		}
	}

	logger.Log.Info("scheduled sync completed")
}

// finishRun 终态只写一次
func (s *CollectorService) finishRun(run *model.SyncRun, status, errorText string) {
	now := time.Now().UTC()
	run.Status = status
	run.ErrorText = errorText
	run.FinishedAt = &now
	if err := s.SyncRunRepo.Update(run); err != nil {
		logger.Log.Error("failed to persist sync run terminal state",
			zap.String("runId", run.ID), zap.Error(err))
	}
}

func (s *CollectorService) collect(ctx context.Context, course *model.Course, run *model.SyncRun) error {
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -s.BackfillDays)
	if course.LastSyncedAt != nil {
		since = course.LastSyncedAt.UTC()
	}

	logger.Log.Info("starting sync",
		zap.Int("stepikCourseId", course.StepikCourseID),
		zap.Time("since", since))

	info, err := s.Stepik.Course(ctx, course.StepikCourseID)
	if err != nil {
		return err
	}

	subs, err := s.Stepik.Submissions(ctx, course.StepikCourseID, since)
	if err != nil {
		// 结构缺失不致命：按没有提交处理，其余错误终止本次运行
		if !errors.Is(err, util.ErrCourseNotFound) {
			return err
		}
		logger.Log.Warn("course structure not resolvable, skipping submissions",
			zap.Int("stepikCourseId", course.StepikCourseID))
	}

	reviews, err := s.Stepik.CourseReviews(ctx, course.StepikCourseID, since)
	if err != nil {
		return err
	}

	run.FetchedItemsCount = len(subs) + len(reviews)
	monitoring.SyncFetchedItems.Add(float64(run.FetchedItemsCount))

	buckets := aggregateDaily(subs, reviews, since, now)

	if err := s.mergeDaily(course.ID, buckets, since, now, info); err != nil {
		return err
	}

	if info != nil {
		course.Title = info.Title
		course.Description = info.Summary
		course.CoverURL = info.Cover
	}
	course.LastSyncedAt = &now
	if err := s.CourseRepo.Update(course); err != nil {
		return fmt.Errorf("%w: %v", util.ErrStore, err)
	}

	if s.Metrics != nil {
		s.Metrics.InvalidateCourseCache(ctx, course.ID)
	}

	return nil
}

// aggregateDaily 把原始记录按UTC日历日分桶，纯函数。
// 窗口内每一天都会产出一个桶，没有记录的日子计数全零，保证序列连续。
// DAU 按去重用户数统计，而不是提交次数。
func aggregateDaily(subs []stepik.Submission, reviews []stepik.Review, windowStart, windowEnd time.Time) map[time.Time]dayBucket {
	subsByDay := make(map[time.Time][]stepik.Submission)
	for _, sub := range subs {
		d := util.TruncateDay(sub.Time)
		subsByDay[d] = append(subsByDay[d], sub)
	}

	reviewsByDay := make(map[time.Time][]stepik.Review)
	for _, r := range reviews {
		d := util.TruncateDay(r.CreateDate)
		reviewsByDay[d] = append(reviewsByDay[d], r)
	}

	start := util.TruncateDay(windowStart)
	end := util.TruncateDay(windowEnd)

	buckets := make(map[time.Time]dayBucket)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		var b dayBucket

		users := make(map[int]struct{})
		for _, sub := range subsByDay[d] {
			b.totalSubmissions++
			switch sub.Status {
			case stepik.StatusCorrect:
				b.correctSubmissions++
			case stepik.StatusWrong:
				b.wrongSubmissions++
			}
			users[sub.UserID] = struct{}{}
		}
		b.activeUsers = len(users)

		dayReviews := reviewsByDay[d]
		b.reviewsCount = len(dayReviews)
		if len(dayReviews) > 0 {
			sum := 0
			for _, r := range dayReviews {
				sum += r.Score
			}
			b.reviewsAvg = float64(sum) / float64(len(dayReviews))
		}

		buckets[d] = b
	}

	return buckets
}

// mergeDaily 把聚合结果合并入持久序列。
// 日期必须从旧到新处理：每天写入后的行是下一天评分增量的基线，
// 乱序会破坏 rating_delta 的链式计算。
func (s *CollectorService) mergeDaily(courseID string, buckets map[time.Time]dayBucket, windowStart, windowEnd time.Time, info *stepik.CourseInfo) error {
	start := util.TruncateDay(windowStart)
	end := util.TruncateDay(windowEnd)

	var prev *model.MetricsDaily
	if p, err := s.MetricsRepo.FindLatestBefore(courseID, start); err == nil {
		prev = p
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", util.ErrStore, err)
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		bucket := buckets[d]

		row, err := s.MetricsRepo.FindByCourseAndDate(courseID, d)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %v", util.ErrStore, err)
			}
			row = &model.MetricsDaily{CourseID: courseID, Date: d}
		}

		row.TotalSubmissions = bucket.totalSubmissions
		row.CorrectSubmissions = bucket.correctSubmissions
		row.WrongSubmissions = bucket.wrongSubmissions
		row.ActiveLearnersDau = bucket.activeUsers
		row.ReviewsCount = bucket.reviewsCount
		row.ReviewsAvg = bucket.reviewsAvg

		if info != nil {
			row.RatingValue = info.Score
			// 序列首日没有基线，增量按零处理
			baseline := info.Score
			if prev != nil {
				baseline = prev.RatingValue
			}
			row.RatingDelta = info.Score - baseline
		}

		if err := s.MetricsRepo.Upsert(row); err != nil {
			return fmt.Errorf("%w: %v", util.ErrStore, err)
		}

		prev = row
	}

	// 学习者增长与证书数是累计口径，无法按日拆分：
	// 整个窗口的增量全部归因到最近一天（已知的估算近似）
	if info != nil {
		latest, err := s.MetricsRepo.FindLatest(courseID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("%w: %v", util.ErrStore, err)
		}

		prevLearners := 0
		if before, err := s.MetricsRepo.FindLatestBefore(courseID, latest.Date); err == nil {
			prevLearners = before.NewLearners
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %v", util.ErrStore, err)
		}

		growth := info.LearnersCount - prevLearners
		if growth < 0 {
			growth = 0
		}
		latest.NewLearners = growth
		latest.Certificates = info.CertificatesCount

		if err := s.MetricsRepo.Upsert(latest); err != nil {
			return fmt.Errorf("%w: %v", util.ErrStore, err)
		}
	}

	return nil
}
