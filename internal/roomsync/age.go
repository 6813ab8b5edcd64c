package roomsync

import (
	"fmt"
	"time"
)

// FormatAge 把毫秒时间戳渲染为相对时间，例如 "just now"、"5m ago"。
func FormatAge(now time.Time, createdAt int64) string {
	diff := now.Sub(time.UnixMilli(createdAt))
	switch {
	case diff >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	case diff >= time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff >= time.Minute:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff > 10*time.Second:
		return fmt.Sprintf("%ds ago", int(diff/time.Second))
	default:
		return "just now"
	}
}
