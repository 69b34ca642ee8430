package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stridehq/stride/internal/habit/domain"
	"github.com/stridehq/stride/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, habit *domain.Habit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO habits (id, user_id, name, description, streak, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		habit.ID,
		habit.UserID,
		habit.Name,
		habit.Description,
		habit.Streak,
		habit.CreatedAt,
		habit.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Habit, error) {
	var habit domain.Habit
	err := db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		First(&habit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &habit, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]*domain.Habit, error) {
	var habits []*domain.Habit
	err := db.WithContext(ctx).
		Model(&domain.Habit{}).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Find(&habits).Error
	if err != nil {
		return nil, err
	}
	return habits, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, userID, id snowflake.ID, fields map[string]any) (int64, error) {
	tx := db.WithContext(ctx).
		Model(&domain.Habit{}).
		Where("user_id = ? AND id = ?", userID, id).
		Updates(fields)
	return tx.RowsAffected, tx.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	tx := db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&domain.Habit{})
	return tx.RowsAffected, tx.Error
}

func (r *repo) InsertCompletion(ctx context.Context, db *gorm.DB, completion *domain.Completion) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO habit_completions (id, habit_id, user_id, completed_at, date)
		 VALUES (?, ?, ?, ?, ?)`,
		completion.ID,
		completion.HabitID,
		completion.UserID,
		completion.CompletedAt,
		completion.Date,
	).Error
}

func (r *repo) FindCompletion(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID, date string) (*domain.Completion, error) {
	var completion domain.Completion
	err := db.WithContext(ctx).
		Where("user_id = ? AND habit_id = ? AND date = ?", userID, habitID, date).
		First(&completion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &completion, nil
}

func (r *repo) ListCompletionsByDate(ctx context.Context, db *gorm.DB, userID snowflake.ID, date string) ([]*domain.Completion, error) {
	var completions []*domain.Completion
	err := db.WithContext(ctx).
		Model(&domain.Completion{}).
		Where("user_id = ? AND date = ?", userID, date).
		Find(&completions).Error
	if err != nil {
		return nil, err
	}
	return completions, nil
}

func (r *repo) ListCompletionsByHabit(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID, page pagination.Pagination) ([]*domain.Completion, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Completion{}).
		Where("user_id = ? AND habit_id = ?", userID, habitID)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidID
		}
		if cursor.ID != "" {
			afterID, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				return nil, domain.ErrInvalidID
			}
			stmt = stmt.Where("(date < ?) OR (date = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, afterID)
		}
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 50
	}

	var completions []*domain.Completion
	err := stmt.
		Order("date desc, id desc").
		Limit(limit + 1).
		Find(&completions).Error
	if err != nil {
		return nil, err
	}
	return completions, nil
}

func (r *repo) DeleteCompletion(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	tx := db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Completion{})
	return tx.RowsAffected, tx.Error
}

func (r *repo) DeleteCompletionsByHabit(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("user_id = ? AND habit_id = ?", userID, habitID).
		Delete(&domain.Completion{}).Error
}

func (r *repo) CompletionDates(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID) ([]string, error) {
	var dates []string
	err := db.WithContext(ctx).
		Model(&domain.Completion{}).
		Where("user_id = ? AND habit_id = ?", userID, habitID).
		Distinct().
		Order("date desc").
		Pluck("date", &dates).Error
	if err != nil {
		return nil, err
	}
	return dates, nil
}
