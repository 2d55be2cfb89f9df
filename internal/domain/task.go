package domain

import "time"

// OriginText marks tasks created from submitted text rather than a locator.
const OriginText = "text_input"

// MaxErrorMessage bounds the failure message persisted on a task.
const MaxErrorMessage = 500

type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskCrawling    TaskStatus = "crawling"
	TaskTranslating TaskStatus = "translating"
	TaskGenerating  TaskStatus = "generating"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

type Task struct {
	ID           string     `db:"id"`
	Origin       string     `db:"origin"`
	Status       TaskStatus `db:"status"`
	ArticleCount int        `db:"article_count"`
	Narrate      bool       `db:"narrate"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// IsText reports whether the task was created from submitted text.
func (t *Task) IsText() bool {
	return t.Origin == OriginText
}

// TruncateMessage shortens msg to at most MaxErrorMessage characters.
func TruncateMessage(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorMessage {
		return msg
	}
	return string(r[:MaxErrorMessage])
}
