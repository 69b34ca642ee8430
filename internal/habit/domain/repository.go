package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/stridehq/stride/pkg/db/pagination"
	"gorm.io/gorm"
)

// Repository takes the db handle per call so services can run multiple
// operations inside one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, habit *Habit) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Habit, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*Habit, error)
	UpdateFields(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, fields map[string]any) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error)

	InsertCompletion(ctx context.Context, db *gorm.DB, completion *Completion) error
	FindCompletion(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID, date string) (*Completion, error)
	ListCompletionsByDate(ctx context.Context, db *gorm.DB, userID snowflake.ID, date string) ([]*Completion, error)
	ListCompletionsByHabit(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID, page pagination.Pagination) ([]*Completion, error)
	DeleteCompletion(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	DeleteCompletionsByHabit(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID) error
	CompletionDates(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID) ([]string, error)
}
