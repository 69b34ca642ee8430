package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DateLayout is the calendar-day format stored on completions. Day boundaries
// are UTC; the service derives "today" once per operation from its clock.
const DateLayout = "2006-01-02"

// Habit is a named recurring behavior owned by one user. Streak is a stored
// counter adjusted on toggle, not derived from the completion history; the
// reconcile operation recomputes it on demand.
type Habit struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID `gorm:"column:user_id;not null;index" json:"user_id"`
	Name        string       `gorm:"not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	Streak      int          `gorm:"not null;default:0" json:"streak"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Habit) TableName() string { return "habits" }

// Completion records that a habit was done on one calendar day. The unique
// index on (habit_id, date) is the arbiter for concurrent toggles.
type Completion struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	HabitID     snowflake.ID `gorm:"column:habit_id;not null;uniqueIndex:idx_completions_habit_date" json:"habit_id"`
	UserID      snowflake.ID `gorm:"column:user_id;not null;index" json:"user_id"`
	CompletedAt time.Time    `gorm:"column:completed_at;not null" json:"completed_at"`
	Date        string       `gorm:"column:date;not null;uniqueIndex:idx_completions_habit_date" json:"date"`
}

// TableName sets the database table name.
func (Completion) TableName() string { return "habit_completions" }
