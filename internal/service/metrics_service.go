package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"stepik_analytics_backend/internal/model"
	"stepik_analytics_backend/internal/util"
	"stepik_analytics_backend/pkg/logger"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const metricsCacheTTL = 5 * time.Minute

// 前端图表配色
var chartColors = []string{"#10B981", "#3B82F6", "#F59E0B", "#EF4444", "#8B5CF6", "#EC4899"}

// DataPoint 图表序列中的一个点
type DataPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type Series struct {
	Key    string      `json:"key"`
	Label  string      `json:"label"`
	Color  string      `json:"color"`
	Points []DataPoint `json:"points"`
}

// Summary 一个窗口内的汇总统计及相对上一窗口的变化。
// 所有百分比字段在基线为零时一律报告为零，保证输出总是良定义的。
// swagger:model Summary
type Summary struct {
	TotalSubmissions      int     `json:"totalSubmissions"`
	CorrectSubmissions    int     `json:"correctSubmissions"`
	WrongSubmissions      int     `json:"wrongSubmissions"`
	SubmissionSuccessRate float64 `json:"submissionSuccessRate"`

	NewLearners              int     `json:"newLearners"`
	NewLearnersChange        int     `json:"newLearnersChange"`
	NewLearnersChangePercent float64 `json:"newLearnersChangePercent"`

	Certificates       int `json:"certificates"`
	CertificatesChange int `json:"certificatesChange"`

	ReputationDelta int `json:"reputationDelta"`
	KnowledgeDelta  int `json:"knowledgeDelta"`

	ReviewsCount       int     `json:"reviewsCount"`
	ReviewsCountChange int     `json:"reviewsCountChange"`
	ReviewsAverage     float64 `json:"reviewsAverage"`

	RatingValue float64 `json:"ratingValue"`
	RatingDelta float64 `json:"ratingDelta"`

	ActiveLearnersDau              int     `json:"activeLearnersDau"`
	ActiveLearnersDauChange        int     `json:"activeLearnersDauChange"`
	ActiveLearnersDauChangePercent float64 `json:"activeLearnersDauChangePercent"`
}

type Comparison struct {
	Current  Summary `json:"current"`
	Previous Summary `json:"previous"`
}

// MetricsResponse 指标查询的完整响应
// swagger:model MetricsResponse
type MetricsResponse struct {
	Summary    Summary    `json:"summary"`
	Series     []Series   `json:"series"`
	Comparison Comparison `json:"comparison"`
}

// MetricsService 只读的指标查询：窗口汇总、环比对比、图表序列。
// Redis 可为 nil，此时直接落库查询不走缓存。
type MetricsService struct {
	MetricsRepo MetricsStore
	Redis       *redis.Client
}

func NewMetricsService(metricsRepo MetricsStore, rdb *redis.Client) *MetricsService {
	return &MetricsService{MetricsRepo: metricsRepo, Redis: rdb}
}

// GetMetrics 计算指定窗口及其前一等长窗口的统计。
// 窗口为固定长度（月恒为30天），不按日历对齐。
func (s *MetricsService) GetMetrics(ctx context.Context, courseID string, kind util.RangeKind, anchor time.Time) (*MetricsResponse, error) {
	cacheKey := fmt.Sprintf("metrics:%s:%s:%s", courseID, kind, util.TruncateDay(anchor).Format(util.DateFormat))

	if s.Redis != nil {
		if val, err := s.Redis.Get(ctx, cacheKey).Result(); err == nil {
			var cached MetricsResponse
			if json.Unmarshal([]byte(val), &cached) == nil {
				return &cached, nil
			}
		}
	}

	curStart, curEnd := kind.CurrentWindow(anchor)
	prevStart, prevEnd := kind.PreviousWindow(anchor)

	current, err := s.MetricsRepo.FindRange(courseID, curStart, curEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrStore, err)
	}

	previous, err := s.MetricsRepo.FindRange(courseID, prevStart, prevEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrStore, err)
	}

	currentSummary := calculateSummary(current, previous)
	previousSummary := calculateSummary(previous, nil)

	resp := &MetricsResponse{
		Summary: currentSummary,
		Series:  buildSeries(current),
		Comparison: Comparison{
			Current:  currentSummary,
			Previous: previousSummary,
		},
	}

	if s.Redis != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := s.Redis.Set(ctx, cacheKey, data, metricsCacheTTL).Err(); err != nil {
				logger.Log.Warn("failed to cache metrics response", zap.Error(err))
			}
		}
	}

	return resp, nil
}

// InvalidateCourseCache 同步成功后丢弃该课程的全部缓存条目
func (s *MetricsService) InvalidateCourseCache(ctx context.Context, courseID string) {
	if s.Redis == nil {
		return
	}

	pattern := fmt.Sprintf("metrics:%s:*", courseID)
	iter := s.Redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.Redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Log.Warn("failed to invalidate metrics cache",
				zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		logger.Log.Warn("metrics cache scan failed", zap.Error(err))
	}
}

// calculateSummary 对窗口内的行做汇总；prevMetrics 用于环比字段，可为 nil
func calculateSummary(metrics, prevMetrics []model.MetricsDaily) Summary {
	var sum Summary

	for _, m := range metrics {
		sum.TotalSubmissions += m.TotalSubmissions
		sum.CorrectSubmissions += m.CorrectSubmissions
		sum.WrongSubmissions += m.WrongSubmissions
		sum.NewLearners += m.NewLearners
		sum.Certificates += m.Certificates
		sum.ReviewsCount += m.ReviewsCount
		sum.ReputationDelta += m.ReputationDelta
		sum.KnowledgeDelta += m.KnowledgeDelta
	}

	if sum.TotalSubmissions > 0 {
		sum.SubmissionSuccessRate = round1(float64(sum.CorrectSubmissions) / float64(sum.TotalSubmissions) * 100)
	}

	// DAU 取窗口内的日均值
	if len(metrics) > 0 {
		dauTotal := 0
		for _, m := range metrics {
			dauTotal += m.ActiveLearnersDau
		}
		sum.ActiveLearnersDau = dauTotal / len(metrics)
	}

	// 有评价的日子的平均分
	reviewDays := 0
	reviewAvgTotal := 0.0
	for _, m := range metrics {
		if m.ReviewsCount > 0 {
			reviewDays++
			reviewAvgTotal += m.ReviewsAvg
		}
	}
	if reviewDays > 0 {
		sum.ReviewsAverage = round2(reviewAvgTotal / float64(reviewDays))
	}

	// 评分取窗口内最后一天的值
	latestRating := 0.0
	if len(metrics) > 0 {
		latestRating = metrics[len(metrics)-1].RatingValue
	}
	prevLatestRating := latestRating
	if len(prevMetrics) > 0 {
		prevLatestRating = prevMetrics[len(prevMetrics)-1].RatingValue
	}
	sum.RatingValue = round2(latestRating)
	sum.RatingDelta = round2(latestRating - prevLatestRating)

	// 环比变化
	prevNewLearners := 0
	prevCertificates := 0
	prevReviewsCount := 0
	prevDau := 0
	for _, m := range prevMetrics {
		prevNewLearners += m.NewLearners
		prevCertificates += m.Certificates
		prevReviewsCount += m.ReviewsCount
	}
	if len(prevMetrics) > 0 {
		dauTotal := 0
		for _, m := range prevMetrics {
			dauTotal += m.ActiveLearnersDau
		}
		prevDau = dauTotal / len(prevMetrics)
	}

	sum.NewLearnersChange = sum.NewLearners - prevNewLearners
	sum.NewLearnersChangePercent = percentChange(float64(sum.NewLearners), float64(prevNewLearners))
	sum.CertificatesChange = sum.Certificates - prevCertificates
	sum.ReviewsCountChange = sum.ReviewsCount - prevReviewsCount
	sum.ActiveLearnersDauChange = sum.ActiveLearnersDau - prevDau
	sum.ActiveLearnersDauChangePercent = percentChange(float64(sum.ActiveLearnersDau), float64(prevDau))

	return sum
}

func buildSeries(metrics []model.MetricsDaily) []Series {
	points := func(value func(m model.MetricsDaily) float64) []DataPoint {
		pts := make([]DataPoint, 0, len(metrics))
		for _, m := range metrics {
			pts = append(pts, DataPoint{
				Date:  m.Date.Format(util.DateFormat),
				Value: value(m),
			})
		}
		return pts
	}

	return []Series{
		{Key: "total_submissions", Label: "Total submissions", Color: chartColors[0],
			Points: points(func(m model.MetricsDaily) float64 { return float64(m.TotalSubmissions) })},
		{Key: "correct_submissions", Label: "Correct submissions", Color: chartColors[1],
			Points: points(func(m model.MetricsDaily) float64 { return float64(m.CorrectSubmissions) })},
		{Key: "wrong_submissions", Label: "Wrong submissions", Color: chartColors[3],
			Points: points(func(m model.MetricsDaily) float64 { return float64(m.WrongSubmissions) })},
		{Key: "new_learners", Label: "New learners", Color: chartColors[4],
			Points: points(func(m model.MetricsDaily) float64 { return float64(m.NewLearners) })},
		{Key: "dau", Label: "Active learners (DAU)", Color: chartColors[2],
			Points: points(func(m model.MetricsDaily) float64 { return float64(m.ActiveLearnersDau) })},
		{Key: "rating", Label: "Course rating", Color: chartColors[5],
			Points: points(func(m model.MetricsDaily) float64 { return m.RatingValue })},
	}
}

// percentChange 基线为零时报告零而不是无穷
func percentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return round1((current - previous) / previous * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
