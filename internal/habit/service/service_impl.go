package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stridehq/stride/internal/actorcontext"
	"github.com/stridehq/stride/internal/clock"
	"github.com/stridehq/stride/internal/habit/domain"
	pkgdb "github.com/stridehq/stride/pkg/db"
	"github.com/stridehq/stride/pkg/db/pagination"
	"github.com/stridehq/stride/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Clock   clock.Clock
	Metrics *telemetry.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	clock   clock.Clock
	metrics *telemetry.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("habit.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// List returns the actor's habits newest first, each decorated with today's
// completion state. "Today" is computed once and reused for every habit.
func (s *Service) List(ctx context.Context) ([]domain.HabitWithStatus, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return nil, domain.ErrUnauthenticated
	}

	habits, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	today := s.today()
	completions, err := s.repo.ListCompletionsByDate(ctx, s.db, userID, today)
	if err != nil {
		return nil, err
	}

	completedAt := make(map[snowflake.ID]time.Time, len(completions))
	for _, completion := range completions {
		completedAt[completion.HabitID] = completion.CompletedAt
	}

	out := make([]domain.HabitWithStatus, 0, len(habits))
	for _, habit := range habits {
		if habit == nil {
			continue
		}
		item := domain.HabitWithStatus{Habit: *habit}
		if ts, ok := completedAt[habit.ID]; ok {
			item.CompletedToday = true
			last := ts
			item.LastCompleted = &last
		}
		out = append(out, item)
	}

	return out, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateHabitRequest) (domain.Habit, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return domain.Habit{}, domain.ErrUnauthenticated
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Habit{}, domain.ErrInvalidName
	}

	now := s.clock.Now()
	habit := domain.Habit{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Streak:      0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Insert(ctx, s.db, &habit); err != nil {
		return domain.Habit{}, err
	}

	return habit, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateHabitRequest) (domain.Habit, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return domain.Habit{}, domain.ErrUnauthenticated
	}

	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Habit{}, err
	}

	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Habit{}, domain.ErrInvalidName
		}
		fields["name"] = name
	}
	if req.Description != nil {
		fields["description"] = strings.TrimSpace(*req.Description)
	}

	if len(fields) > 0 {
		fields["updated_at"] = s.clock.Now()
		affected, err := s.repo.UpdateFields(ctx, s.db, userID, id, fields)
		if err != nil {
			return domain.Habit{}, err
		}
		if affected == 0 {
			return domain.Habit{}, domain.ErrNotFound
		}
	}

	habit, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return domain.Habit{}, err
	}
	if habit == nil {
		return domain.Habit{}, domain.ErrNotFound
	}
	return *habit, nil
}

// Delete removes the habit and its completion history in one transaction so
// no orphaned completion rows survive.
func (s *Service) Delete(ctx context.Context, rawID string) error {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return domain.ErrUnauthenticated
	}

	id, err := s.parseID(rawID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.Delete(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrNotFound
		}
		return s.repo.DeleteCompletionsByHabit(ctx, tx, userID, id)
	})
}

// Toggle flips today's completion state for the habit and adjusts its stored
// streak. Both mutations run in one transaction; the unique index on
// (habit_id, date) decides the winner when two toggles race, and the losing
// insert becomes a no-op.
func (s *Service) Toggle(ctx context.Context, rawID string) (domain.ToggleResult, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return domain.ToggleResult{}, domain.ErrUnauthenticated
	}

	id, err := s.parseID(rawID)
	if err != nil {
		return domain.ToggleResult{}, err
	}

	habit, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return domain.ToggleResult{}, err
	}
	if habit == nil {
		return domain.ToggleResult{}, domain.ErrNotFound
	}

	now := s.clock.Now()
	today := now.Format(domain.DateLayout)

	existing, err := s.repo.FindCompletion(ctx, s.db, userID, id, today)
	if err != nil {
		return domain.ToggleResult{}, err
	}

	var completed bool
	if existing != nil {
		completed = false
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			affected, err := s.repo.DeleteCompletion(ctx, tx, existing.ID)
			if err != nil {
				return err
			}
			if affected == 0 {
				// A concurrent toggle already removed it; leave the streak alone.
				return nil
			}
			return s.updateHabitStreak(ctx, tx, userID, id, false)
		})
	} else {
		completed = true
		completion := domain.Completion{
			ID:          s.genID.Generate(),
			HabitID:     id,
			UserID:      userID,
			CompletedAt: now,
			Date:        today,
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.InsertCompletion(ctx, tx, &completion); err != nil {
				return err
			}
			return s.updateHabitStreak(ctx, tx, userID, id, true)
		})
		if pkgdb.IsDuplicateKeyErr(err) {
			// Lost the same-day race: another toggle inserted first. The habit
			// is already completed for today, so this insert is a no-op.
			s.metrics.ObserveToggleConflict()
			s.log.Debug("toggle lost same-day race",
				zap.String("habit_id", id.String()),
				zap.String("date", today),
			)
			err = nil
		}
	}
	if err != nil {
		return domain.ToggleResult{}, err
	}

	s.metrics.ObserveToggle(completed)

	updated, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return domain.ToggleResult{}, err
	}
	if updated == nil {
		return domain.ToggleResult{}, domain.ErrNotFound
	}

	return domain.ToggleResult{Habit: *updated, CompletedToday: completed}, nil
}

// updateHabitStreak reads the stored streak and writes streak+1 or
// max(0, streak-1). A missing habit is a silent no-op.
func (s *Service) updateHabitStreak(ctx context.Context, tx *gorm.DB, userID, id snowflake.ID, completed bool) error {
	habit, err := s.repo.FindByID(ctx, tx, userID, id)
	if err != nil {
		return err
	}
	if habit == nil {
		return nil
	}

	newStreak := habit.Streak - 1
	if completed {
		newStreak = habit.Streak + 1
	}
	if newStreak < 0 {
		newStreak = 0
	}

	_, err = s.repo.UpdateFields(ctx, tx, userID, id, map[string]any{
		"streak":     newStreak,
		"updated_at": s.clock.Now(),
	})
	return err
}

// Reconcile recomputes the streak from the completion history: the number of
// consecutive completed days in the run ending today or yesterday. It exists
// as a repair operation for drift after partial failures, not as part of the
// toggle hot path.
func (s *Service) Reconcile(ctx context.Context, rawID string) (domain.Habit, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return domain.Habit{}, domain.ErrUnauthenticated
	}

	id, err := s.parseID(rawID)
	if err != nil {
		return domain.Habit{}, err
	}

	habit, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return domain.Habit{}, err
	}
	if habit == nil {
		return domain.Habit{}, domain.ErrNotFound
	}

	dates, err := s.repo.CompletionDates(ctx, s.db, userID, id)
	if err != nil {
		return domain.Habit{}, err
	}

	streak := consecutiveRun(dates, s.clock.Now())
	if streak != habit.Streak {
		s.log.Info("reconciled habit streak",
			zap.String("habit_id", id.String()),
			zap.Int("stored", habit.Streak),
			zap.Int("computed", streak),
		)
		if _, err := s.repo.UpdateFields(ctx, s.db, userID, id, map[string]any{
			"streak":     streak,
			"updated_at": s.clock.Now(),
		}); err != nil {
			return domain.Habit{}, err
		}
		habit.Streak = streak
	}

	return *habit, nil
}

func (s *Service) ListCompletions(ctx context.Context, req domain.ListCompletionsRequest) (domain.ListCompletionsResponse, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return domain.ListCompletionsResponse{}, domain.ErrUnauthenticated
	}

	id, err := s.parseID(req.HabitID)
	if err != nil {
		return domain.ListCompletionsResponse{}, err
	}

	habit, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return domain.ListCompletionsResponse{}, err
	}
	if habit == nil {
		return domain.ListCompletionsResponse{}, domain.ErrNotFound
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListCompletionsByHabit(ctx, s.db, userID, id, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListCompletionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(completion *domain.Completion) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        completion.ID.String(),
			CreatedAt: completion.Date,
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	completions := make([]domain.Completion, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		completions = append(completions, *item)
	}

	resp := domain.ListCompletionsResponse{Completions: completions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}

func (s *Service) today() string {
	return s.clock.Now().Format(domain.DateLayout)
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

// consecutiveRun counts distinct completed days walking backwards from today,
// also accepting a run that ends yesterday (the habit is not broken until a
// full day is missed).
func consecutiveRun(datesDesc []string, now time.Time) int {
	if len(datesDesc) == 0 {
		return 0
	}

	day := now.Truncate(24 * time.Hour)
	today := day.Format(domain.DateLayout)
	yesterday := day.AddDate(0, 0, -1).Format(domain.DateLayout)

	if datesDesc[0] != today && datesDesc[0] != yesterday {
		return 0
	}

	expected, err := time.Parse(domain.DateLayout, datesDesc[0])
	if err != nil {
		return 0
	}

	streak := 0
	for _, raw := range datesDesc {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			break
		}
		if !parsed.Equal(expected) {
			break
		}
		streak++
		expected = expected.AddDate(0, 0, -1)
	}

	return streak
}
