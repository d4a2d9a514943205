package util

import "errors"

var (
	// 同步流水线错误分类
	ErrAuthFailed     = errors.New("stepik auth failed")      // 令牌交换失败，终止本次同步
	ErrUpstream       = errors.New("stepik upstream error")   // 单页/单资源抓取失败，截断但不终止
	ErrCourseNotFound = errors.New("course not found")        // 课程或课程结构不存在
	ErrStore          = errors.New("metrics store error")     // 持久化失败，放弃整个合并

	ErrUsernameRegistered = errors.New("该用户名已被注册")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrInvalidCourseRef   = errors.New("无法解析课程ID或URL")
)
