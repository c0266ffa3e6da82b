package peer

import (
	"fmt"
	"strings"
	"time"
)

// dueDateLayouts はタスクサービスが返しうる期限の書式。
// タイムゾーンを持たない書式はUTCとして解釈する。
var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// taskPayload はタスクサービスのJSON表現。
type taskPayload struct {
	ID        ID      `json:"id"`
	Title     string  `json:"title"`
	Completed bool    `json:"completed"`
	DueDate   *string `json:"dueDate"`
	UserID    ID      `json:"userId"`
}

func (p taskPayload) toTask() (Task, error) {
	t := Task{
		ID:        p.ID,
		Title:     p.Title,
		Completed: p.Completed,
		UserID:    p.UserID,
	}
	if p.DueDate == nil || strings.TrimSpace(*p.DueDate) == "" {
		return t, nil
	}
	due, err := parseDueDate(*p.DueDate)
	if err != nil {
		return Task{}, err
	}
	t.DueDate = &due
	return t, nil
}

func parseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("不明な日時形式: %q", s)
}
