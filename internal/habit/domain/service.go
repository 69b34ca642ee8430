package domain

import (
	"context"
	"errors"
	"time"

	"github.com/stridehq/stride/pkg/db/pagination"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidID       = errors.New("invalid_id")
	ErrNotFound        = errors.New("not_found")
)

// HabitWithStatus decorates a habit with its completion state for the
// caller's current day.
type HabitWithStatus struct {
	Habit
	CompletedToday bool       `json:"completed_today"`
	LastCompleted  *time.Time `json:"last_completed,omitempty"`
}

type CreateHabitRequest struct {
	Name        string
	Description string
}

type UpdateHabitRequest struct {
	ID          string
	Name        *string
	Description *string
}

// ToggleResult reports the habit after a toggle and the resulting completion
// state for today.
type ToggleResult struct {
	Habit          Habit `json:"habit"`
	CompletedToday bool  `json:"completed_today"`
}

type ListCompletionsRequest struct {
	HabitID   string
	PageToken string
	PageSize  int
}

type ListCompletionsResponse struct {
	pagination.PageInfo
	Completions []Completion `json:"completions"`
}

type Service interface {
	List(ctx context.Context) ([]HabitWithStatus, error)
	Create(ctx context.Context, req CreateHabitRequest) (Habit, error)
	Update(ctx context.Context, req UpdateHabitRequest) (Habit, error)
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) (ToggleResult, error)
	Reconcile(ctx context.Context, id string) (Habit, error)
	ListCompletions(ctx context.Context, req ListCompletionsRequest) (ListCompletionsResponse, error)
}
