package service

import (
	"context"
	"testing"
	"time"

	"stepik_analytics_backend/internal/model"
	"stepik_analytics_backend/internal/stepik"
	"stepik_analytics_backend/internal/util"

	"github.com/stretchr/testify/require"
)

func TestParseCourseRef(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"12345", 12345, false},
		{"  67 ", 67, false},
		{"https://stepik.org/course/58852/promo", 58852, false},
		{"https://stepik.org/course/58852", 58852, false},
		{"https://stepik.org/course/58852/syllabus?auth=login", 58852, false},
		{"", 0, true},
		{"-5", 0, true},
		{"not-a-course", 0, true},
		{"https://stepik.org/lesson/99", 0, true},
	}

	for _, tt := range tests {
		got, err := parseCourseRef(tt.input)
		if tt.wantErr {
			require.ErrorIs(t, err, util.ErrInvalidCourseRef, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		require.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestAddCourseRegistersFromUpstream(t *testing.T) {
	courses := newFakeCourseStore()
	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, Title: "Go Basics", Summary: "intro", Cover: "http://img"},
	}
	svc := NewCourseService(courses, &fakeSyncRunStore{}, api)

	view, err := svc.AddCourse(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 42, view.StepikCourseID)
	require.Equal(t, "Go Basics", view.Title)
	require.True(t, view.IsEnabled)
	require.NotEmpty(t, view.ID)
}

func TestAddCourseIsIdempotent(t *testing.T) {
	courses := newFakeCourseStore()
	api := &fakeStepikAPI{
		info: &stepik.CourseInfo{ID: 42, Title: "Go Basics"},
	}
	svc := NewCourseService(courses, &fakeSyncRunStore{}, api)

	first, err := svc.AddCourse(context.Background(), "42")
	require.NoError(t, err)

	second, err := svc.AddCourse(context.Background(), "https://stepik.org/course/42/promo")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := svc.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAddCourseUnknownUpstreamCourse(t *testing.T) {
	svc := NewCourseService(newFakeCourseStore(), &fakeSyncRunStore{}, &fakeStepikAPI{info: nil})

	_, err := svc.AddCourse(context.Background(), "99999")
	require.ErrorIs(t, err, util.ErrCourseNotFound)
}

func TestGetByIDMissing(t *testing.T) {
	svc := NewCourseService(newFakeCourseStore(), &fakeSyncRunStore{}, &fakeStepikAPI{})

	_, err := svc.GetByID("nope")
	require.ErrorIs(t, err, util.ErrCourseNotFound)
}

func TestGetAllIncludesLastSync(t *testing.T) {
	course := &model.Course{StepikCourseID: 42, IsEnabled: true}
	courses := newFakeCourseStore(course)

	finished := time.Now().UTC()
	runs := &fakeSyncRunStore{}
	require.NoError(t, runs.Create(&model.SyncRun{
		CourseID:          course.ID,
		StartedAt:         finished.Add(-time.Minute),
		FinishedAt:        &finished,
		Status:            model.SyncStatusOK,
		FetchedItemsCount: 12,
	}))

	svc := NewCourseService(courses, runs, &fakeStepikAPI{})

	all, err := svc.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].LastSync)
	require.Equal(t, model.SyncStatusOK, all[0].LastSync.Status)
	require.Equal(t, 12, all[0].LastSync.FetchedItems)
	require.Equal(t, finished, all[0].LastSync.At)
}

func TestGetSyncRunsClampsLimit(t *testing.T) {
	runs := &fakeSyncRunStore{}
	for i := 0; i < 30; i++ {
		require.NoError(t, runs.Create(&model.SyncRun{CourseID: "c1", Status: model.SyncStatusOK}))
	}

	svc := NewCourseService(newFakeCourseStore(), runs, &fakeStepikAPI{})

	got, err := svc.GetSyncRuns("c1", 0)
	require.NoError(t, err)
	require.Len(t, got, 20)

	got, err = svc.GetSyncRuns("c1", 500)
	require.NoError(t, err)
	require.Len(t, got, 20)

	got, err = svc.GetSyncRuns("c1", 25)
	require.NoError(t, err)
	require.Len(t, got, 25)
}

func TestDeleteCourseMissing(t *testing.T) {
	svc := NewCourseService(newFakeCourseStore(), &fakeSyncRunStore{}, &fakeStepikAPI{})

	err := svc.DeleteCourse("missing")
	require.ErrorIs(t, err, util.ErrCourseNotFound)
}
