package repository

import (
	"stepik_analytics_backend/internal/model"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) Create(course *model.Course) error {
	return r.DB.Create(course).Error
}

func (r *CourseRepository) FindByID(id string) (*model.Course, error) {
	var course model.Course
	err := r.DB.Where("id = ?", id).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *CourseRepository) FindByStepikID(stepikCourseID int) (*model.Course, error) {
	var course model.Course
	err := r.DB.Where("stepik_course_id = ?", stepikCourseID).First(&course).Error
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// FindAll 按创建时间倒序返回所有课程
func (r *CourseRepository) FindAll() ([]model.Course, error) {
	var courses []model.Course
	err := r.DB.Order("created_at DESC").Find(&courses).Error
	return courses, err
}

// FindEnabled 返回参与定时同步的课程
func (r *CourseRepository) FindEnabled() ([]model.Course, error) {
	var courses []model.Course
	err := r.DB.Where("is_enabled = ?", true).Order("created_at").Find(&courses).Error
	return courses, err
}

func (r *CourseRepository) Update(course *model.Course) error {
	return r.DB.Save(course).Error
}

func (r *CourseRepository) Delete(id string) error {
	result := r.DB.Where("id = ?", id).Delete(&model.Course{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
