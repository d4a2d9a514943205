package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"stepik_analytics_backend/internal/model"
	"stepik_analytics_backend/internal/util"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// SyncStatus 课程列表中附带的最近一次同步概要
type SyncStatus struct {
	At           time.Time `json:"at"`
	Status       string    `json:"status"`
	ErrorText    string    `json:"errorText,omitempty"`
	FetchedItems int       `json:"fetchedItems"`
}

// CourseView 课程及其最近同步状态
// swagger:model CourseView
type CourseView struct {
	model.Course
	LastSync *SyncStatus `json:"lastSync,omitempty"`
}

// CourseService 课程登记管理
type CourseService struct {
	CourseRepo  CourseStore
	SyncRunRepo SyncRunStore
	Stepik      StepikAPI
}

func NewCourseService(courseRepo CourseStore, syncRunRepo SyncRunStore, api StepikAPI) *CourseService {
	return &CourseService{
		CourseRepo:  courseRepo,
		SyncRunRepo: syncRunRepo,
		Stepik:      api,
	}
}

func (s *CourseService) GetAll() ([]CourseView, error) {
	courses, err := s.CourseRepo.FindAll()
	if err != nil {
		return nil, err
	}

	views := make([]CourseView, 0, len(courses))
	for _, c := range courses {
		views = append(views, s.toView(c))
	}
	return views, nil
}

func (s *CourseService) GetByID(id string) (*CourseView, error) {
	course, err := s.CourseRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrCourseNotFound
		}
		return nil, err
	}

	view := s.toView(*course)
	return &view, nil
}

// AddCourse 按Stepik课程ID或课程页URL登记课程。
// 课程已存在时幂等地返回已有记录。
func (s *CourseService) AddCourse(ctx context.Context, courseIDOrURL string) (*CourseView, error) {
	stepikID, err := parseCourseRef(courseIDOrURL)
	if err != nil {
		return nil, err
	}

	if existing, err := s.CourseRepo.FindByStepikID(stepikID); err == nil {
		view := s.toView(*existing)
		return &view, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	info, err := s.Stepik.Course(ctx, stepikID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: stepik course %d", util.ErrCourseNotFound, stepikID)
	}

	course := &model.Course{
		StepikCourseID: info.ID,
		Title:          info.Title,
		Description:    info.Summary,
		CoverURL:       info.Cover,
		IsEnabled:      true,
	}

	if err := s.CourseRepo.Create(course); err != nil {
		return nil, err
	}

	view := s.toView(*course)
	return &view, nil
}

func (s *CourseService) DeleteCourse(id string) error {
	err := s.CourseRepo.Delete(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrCourseNotFound
	}
	return err
}

func (s *CourseService) GetSyncRuns(courseID string, limit int) ([]model.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.SyncRunRepo.FindRecent(courseID, limit)
}

func (s *CourseService) toView(course model.Course) CourseView {
	view := CourseView{Course: course}

	run, err := s.SyncRunRepo.FindLatestByCourse(course.ID)
	if err != nil {
		return view
	}

	at := run.StartedAt
	if run.FinishedAt != nil {
		at = *run.FinishedAt
	}
	view.LastSync = &SyncStatus{
		At:           at,
		Status:       run.Status,
		ErrorText:    run.ErrorText,
		FetchedItems: run.FetchedItemsCount,
	}
	return view
}

// parseCourseRef 解析课程引用：纯数字ID或 https://stepik.org/course/12345/... 形式的URL
func parseCourseRef(input string) (int, error) {
	input = strings.TrimSpace(input)

	if id, err := strconv.Atoi(input); err == nil && id > 0 {
		return id, nil
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return 0, util.ErrInvalidCourseRef
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "course" && i+1 < len(segments) {
			if id, err := strconv.Atoi(segments[i+1]); err == nil && id > 0 {
				return id, nil
			}
		}
	}

	return 0, util.ErrInvalidCourseRef
}
