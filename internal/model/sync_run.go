package model

import "time"

// 同步运行状态机：running → ok | failed，终态只写一次
const (
	SyncStatusRunning = "running"
	SyncStatusOK      = "ok"
	SyncStatusFailed  = "failed"
)

// SyncRun 一次课程同步的生命周期记录
// swagger:model SyncRun
type SyncRun struct {
	UUIDBase
	CourseID          string     `gorm:"type:varchar(36);index;not null" json:"courseId"`
	StartedAt         time.Time  `gorm:"not null" json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	ErrorText         string     `gorm:"type:text" json:"errorText,omitempty"`
	FetchedItemsCount int        `gorm:"default:0" json:"fetchedItemsCount"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}
