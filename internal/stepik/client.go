package stepik

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"stepik_analytics_backend/internal/config"
	"stepik_analytics_backend/internal/util"
	"stepik_analytics_backend/pkg/logger"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// 令牌在到期前5分钟即视为无效，主动刷新
	tokenSafetyMargin = 5 * time.Minute

	// 课程结构抓取的扇出上限：控制最坏情况下的请求数，
	// 代价是超大课程只统计前若干章节
	maxSectionFetch = 10
	maxUnitFetch    = 10

	// 每次同步最多抓取提交的步骤数
	maxStepsPerSync = 50

	submissionMaxPages = 5
	reviewMaxPages     = 10
)

type credential struct {
	token     string
	expiresAt time.Time
}

func (c *credential) valid(now time.Time) bool {
	return c != nil && now.Before(c.expiresAt.Add(-tokenSafetyMargin))
}

// Client Stepik开放API客户端，内部维护共享的OAuth凭证缓存。
// 可被多个并发同步安全共享：凭证读取无锁，刷新互斥。
type Client struct {
	cfg        config.StepikConfig
	httpClient *http.Client
	pageDelay  time.Duration

	cred      atomic.Pointer[credential]
	refreshMu sync.Mutex
}

func NewClient(cfg config.StepikConfig) *Client {
	delay := time.Duration(cfg.PageDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pageDelay:  delay,
	}
}

// ensureToken 返回有效的访问令牌。
// 快路径无锁读取缓存；过期时经双重检查锁刷新，同一时刻至多一次令牌交换。
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	now := time.Now()
	if cr := c.cred.Load(); cr.valid(now) {
		return cr.token, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// 并发调用者可能已经完成了刷新
	if cr := c.cred.Load(); cr.valid(time.Now()) {
		return cr.token, nil
	}

	logger.Log.Info("Refreshing Stepik OAuth token")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token endpoint unreachable: %v", util.ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", util.ErrAuthFailed, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: failed to parse token response", util.ErrAuthFailed)
	}

	cr := &credential{
		token:     tr.AccessToken,
		expiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	c.cred.Store(cr)

	logger.Log.Info("Stepik token refreshed", zap.Time("expiresAt", cr.expiresAt))
	return cr.token, nil
}

// getRaw 执行一次带Bearer认证的GET。
// 认证失败返回 ErrAuthFailed，其余失败一律包装为 ErrUpstream
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", util.ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned %d", util.ErrUpstream, path, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// pageDecoder 解码一页响应，返回条目和是否还有后续页
type pageDecoder[T any] func(body []byte) (items []T, hasNext bool, err error)

// fetchAll 顺序遍历分页端点。
// 终止条件：上游 has_next=false、达到 maxPages 上限、或 stop 判定
// 本页已完全超出调用方关心的时间窗口（记录按新到旧返回）。
// 单页失败会截断遍历但保留已取到的部分；页间有固定间隔以尊重上游限流。
func fetchAll[T any](ctx context.Context, c *Client, endpoint string, decode pageDecoder[T], stop func(pageItems []T) bool, maxPages int) ([]T, error) {
	var result []T

	for page := 1; page <= maxPages; page++ {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		body, err := c.getRaw(ctx, fmt.Sprintf("%s%spage=%d", endpoint, sep, page))
		if err != nil {
			if errors.Is(err, util.ErrAuthFailed) || ctx.Err() != nil {
				return result, err
			}
			// 单页失败视为上游数据到此为止，不做内联重试
			logger.Log.Warn("stepik page fetch failed, truncating pagination",
				zap.String("endpoint", endpoint), zap.Int("page", page), zap.Error(err))
			return result, nil
		}

		items, hasNext, err := decode(body)
		if err != nil {
			logger.Log.Warn("stepik page decode failed, truncating pagination",
				zap.String("endpoint", endpoint), zap.Int("page", page), zap.Error(err))
			return result, nil
		}

		result = append(result, items...)

		if stop != nil && stop(items) {
			break
		}
		if !hasNext {
			break
		}

		if page < maxPages {
			timer := time.NewTimer(c.pageDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return result, nil
}

// Course 获取课程快照，课程不存在时返回 (nil, nil)
func (c *Client) Course(ctx context.Context, courseID int) (*CourseInfo, error) {
	body, err := c.getRaw(ctx, fmt.Sprintf("courses/%d", courseID))
	if err != nil {
		if errors.Is(err, util.ErrAuthFailed) {
			return nil, err
		}
		logger.Log.Warn("stepik course fetch failed", zap.Int("courseId", courseID), zap.Error(err))
		return nil, nil
	}

	var resp coursesResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Courses) == 0 {
		return nil, nil
	}

	cj := resp.Courses[0]
	return &CourseInfo{
		ID:                cj.ID,
		Title:             cj.Title,
		Summary:           cj.Summary,
		Cover:             cj.Cover,
		LearnersCount:     cj.LearnersCount,
		Score:             cj.Score,
		CertificatesCount: cj.CertificatesCount,
		SectionIDs:        cj.Sections,
	}, nil
}

// CourseStepIDs 解析课程的嵌套结构（章节→单元→课→步骤），
// 返回扁平的步骤ID列表。课程不存在返回 ErrCourseNotFound；
// 某个中间层为空时返回空列表而非错误。
func (c *Client) CourseStepIDs(ctx context.Context, courseID int) ([]int, error) {
	body, err := c.getRaw(ctx, fmt.Sprintf("courses/%d", courseID))
	if err != nil {
		if errors.Is(err, util.ErrAuthFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: course %d", util.ErrCourseNotFound, courseID)
	}

	var courses coursesResponse
	if err := json.Unmarshal(body, &courses); err != nil || len(courses.Courses) == 0 {
		return nil, fmt.Errorf("%w: course %d", util.ErrCourseNotFound, courseID)
	}

	sectionIDs := courses.Courses[0].Sections
	if len(sectionIDs) > maxSectionFetch {
		sectionIDs = sectionIDs[:maxSectionFetch]
	}

	stepIDs := []int{}
	for _, sectionID := range sectionIDs {
		sb, err := c.getRaw(ctx, fmt.Sprintf("sections/%d", sectionID))
		if err != nil {
			if errors.Is(err, util.ErrAuthFailed) {
				return stepIDs, err
			}
			continue
		}

		var sections sectionsResponse
		if err := json.Unmarshal(sb, &sections); err != nil || len(sections.Sections) == 0 {
			continue
		}

		unitIDs := sections.Sections[0].Units
		if len(unitIDs) > maxUnitFetch {
			unitIDs = unitIDs[:maxUnitFetch]
		}

		for _, unitID := range unitIDs {
			ub, err := c.getRaw(ctx, fmt.Sprintf("units/%d", unitID))
			if err != nil {
				if errors.Is(err, util.ErrAuthFailed) {
					return stepIDs, err
				}
				continue
			}

			var units unitsResponse
			if err := json.Unmarshal(ub, &units); err != nil || len(units.Units) == 0 {
				continue
			}

			lessonID := units.Units[0].Lesson
			if lessonID <= 0 {
				continue
			}

			lb, err := c.getRaw(ctx, fmt.Sprintf("lessons/%d", lessonID))
			if err != nil {
				if errors.Is(err, util.ErrAuthFailed) {
					return stepIDs, err
				}
				continue
			}

			var lessons lessonsResponse
			if err := json.Unmarshal(lb, &lessons); err != nil || len(lessons.Lessons) == 0 {
				continue
			}

			stepIDs = append(stepIDs, lessons.Lessons[0].Steps...)
		}
	}

	return stepIDs, nil
}

// Submissions 按课程抓取提交记录，逐步骤分页拉取。
// since 非零时只返回该时刻之后的记录，并利用"新到旧"的返回顺序提前终止分页。
func (c *Client) Submissions(ctx context.Context, courseID int, since time.Time) ([]Submission, error) {
	stepIDs, err := c.CourseStepIDs(ctx, courseID)
	if err != nil {
		return nil, err
	}

	if len(stepIDs) > maxStepsPerSync {
		stepIDs = stepIDs[:maxStepsPerSync]
	}

	decode := func(body []byte) ([]Submission, bool, error) {
		var page submissionsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, false, err
		}
		subs := make([]Submission, 0, len(page.Submissions))
		for _, sj := range page.Submissions {
			subs = append(subs, Submission{
				ID:     sj.ID,
				StepID: sj.Step,
				UserID: sj.User,
				Status: sj.Status,
				Time:   parseTime(sj.Time),
			})
		}
		return subs, page.Meta.HasNext, nil
	}

	// 页内记录新到旧：本页最旧一条已早于截止时间时，更旧的页无需再取
	stop := func(pageItems []Submission) bool {
		if since.IsZero() || len(pageItems) == 0 {
			return false
		}
		return pageItems[len(pageItems)-1].Time.Before(since)
	}

	var all []Submission
	for _, stepID := range stepIDs {
		endpoint := fmt.Sprintf("submissions?step=%d&order=desc", stepID)
		subs, err := fetchAll(ctx, c, endpoint, decode, stop, submissionMaxPages)
		all = append(all, filterSubmissionsSince(subs, since)...)
		if err != nil {
			return all, err
		}
	}

	return all, nil
}

// CourseReviews 抓取课程评价，分页走法与提交相同
func (c *Client) CourseReviews(ctx context.Context, courseID int, since time.Time) ([]Review, error) {
	decode := func(body []byte) ([]Review, bool, error) {
		var page reviewsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, false, err
		}
		reviews := make([]Review, 0, len(page.CourseReviews))
		for _, rj := range page.CourseReviews {
			reviews = append(reviews, Review{
				ID:         rj.ID,
				CourseID:   rj.Course,
				UserID:     rj.User,
				Score:      rj.Score,
				Text:       rj.Text,
				CreateDate: parseTime(rj.CreateDate),
			})
		}
		return reviews, page.Meta.HasNext, nil
	}

	stop := func(pageItems []Review) bool {
		if since.IsZero() || len(pageItems) == 0 {
			return false
		}
		return pageItems[len(pageItems)-1].CreateDate.Before(since)
	}

	endpoint := fmt.Sprintf("course-reviews?course=%d", courseID)
	reviews, err := fetchAll(ctx, c, endpoint, decode, stop, reviewMaxPages)
	return filterReviewsSince(reviews, since), err
}

func filterSubmissionsSince(subs []Submission, since time.Time) []Submission {
	if since.IsZero() {
		return subs
	}
	out := subs[:0]
	for _, s := range subs {
		if !s.Time.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

func filterReviewsSince(reviews []Review, since time.Time) []Review {
	if since.IsZero() {
		return reviews
	}
	out := reviews[:0]
	for _, r := range reviews {
		if !r.CreateDate.Before(since) {
			out = append(out, r)
		}
	}
	return out
}
