package util

import "time"

// RangeKind 指标查询的时间范围类型
type RangeKind string

const (
	RangeDay   RangeKind = "day"
	RangeWeek  RangeKind = "week"
	RangeMonth RangeKind = "month"
	RangeYear  RangeKind = "year"
)

// ParseRangeKind 解析范围参数，非法值回落到 week
func ParseRangeKind(s string) RangeKind {
	switch RangeKind(s) {
	case RangeDay, RangeWeek, RangeMonth, RangeYear:
		return RangeKind(s)
	default:
		return RangeWeek
	}
}

// RangeDays 固定长度窗口：月恒为30天、年恒为365天，不按日历对齐
func (k RangeKind) RangeDays() int {
	switch k {
	case RangeDay:
		return 1
	case RangeWeek:
		return 7
	case RangeMonth:
		return 30
	case RangeYear:
		return 365
	default:
		return 7
	}
}

// TruncateDay 归一化到UTC当日零点，全系统的日期基准
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CurrentWindow 返回以 anchor 为终点的当前窗口 [anchor-(N-1), anchor]，闭区间
func (k RangeKind) CurrentWindow(anchor time.Time) (time.Time, time.Time) {
	end := TruncateDay(anchor)
	start := end.AddDate(0, 0, -(k.RangeDays() - 1))
	return start, end
}

// PreviousWindow 返回紧邻当前窗口之前的等长窗口 [curStart-N, curStart-1]
func (k RangeKind) PreviousWindow(anchor time.Time) (time.Time, time.Time) {
	curStart, _ := k.CurrentWindow(anchor)
	n := k.RangeDays()
	return curStart.AddDate(0, 0, -n), curStart.AddDate(0, 0, -1)
}
