package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stridehq/stride/internal/actorcontext"
	"github.com/stridehq/stride/internal/clock"
	"github.com/stridehq/stride/internal/habit/domain"
	"github.com/stridehq/stride/internal/habit/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func setupHabitService(t *testing.T, node *snowflake.Node, clk clock.Clock) (domain.Service, *gorm.DB) {
	t.Helper()

	db := setupTestDB(t)
	service := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})

	return service, db
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.AutoMigrate(&domain.Habit{}, &domain.Completion{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func actorCtx(userID snowflake.ID) context.Context {
	return actorcontext.WithUserID(context.Background(), userID)
}

func countCompletions(t *testing.T, db *gorm.DB, habitID snowflake.ID) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM habit_completions WHERE habit_id = ?`, habitID).Scan(&count).Error; err != nil {
		t.Fatalf("count completions: %v", err)
	}
	return count
}

func TestOperationsRequireActor(t *testing.T) {
	node := mustNode(t)
	service, _ := setupHabitService(t, node, clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	if _, err := service.List(ctx); err != domain.ErrUnauthenticated {
		t.Fatalf("list: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Read"}); err != domain.ErrUnauthenticated {
		t.Fatalf("create: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.Update(ctx, domain.UpdateHabitRequest{ID: "1"}); err != domain.ErrUnauthenticated {
		t.Fatalf("update: expected ErrUnauthenticated, got %v", err)
	}
	if err := service.Delete(ctx, "1"); err != domain.ErrUnauthenticated {
		t.Fatalf("delete: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.Toggle(ctx, "1"); err != domain.ErrUnauthenticated {
		t.Fatalf("toggle: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.Reconcile(ctx, "1"); err != domain.ErrUnauthenticated {
		t.Fatalf("reconcile: expected ErrUnauthenticated, got %v", err)
	}
	if _, err := service.ListCompletions(ctx, domain.ListCompletionsRequest{HabitID: "1"}); err != domain.ErrUnauthenticated {
		t.Fatalf("list completions: expected ErrUnauthenticated, got %v", err)
	}
}

func TestCreateDefaultsAndListOrder(t *testing.T) {
	node := mustNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	service, _ := setupHabitService(t, node, clk)
	ctx := actorCtx(node.Generate())

	first, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Drink Water"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.Streak != 0 {
		t.Fatalf("expected streak 0, got %d", first.Streak)
	}

	clk.Advance(time.Minute)
	second, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Stretch", Description: "five minutes"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	habits, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(habits) != 2 {
		t.Fatalf("expected 2 habits, got %d", len(habits))
	}
	if habits[0].ID != second.ID || habits[1].ID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", habits[0].Name, habits[1].Name)
	}
	for _, h := range habits {
		if h.CompletedToday {
			t.Fatalf("habit %s unexpectedly completed today", h.Name)
		}
		if h.LastCompleted != nil {
			t.Fatalf("habit %s has last completed without completion", h.Name)
		}
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	node := mustNode(t)
	service, _ := setupHabitService(t, node, clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
	ctx := actorCtx(node.Generate())

	if _, err := service.Create(ctx, domain.CreateHabitRequest{Name: "   "}); err != domain.ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestToggleOnThenOff(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	service, db := setupHabitService(t, node, clk)
	ctx := actorCtx(node.Generate())

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Drink Water"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	on, err := service.Toggle(ctx, habit.ID.String())
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !on.CompletedToday {
		t.Fatal("expected completed today after toggle on")
	}
	if on.Habit.Streak != 1 {
		t.Fatalf("expected streak 1, got %d", on.Habit.Streak)
	}

	habits, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !habits[0].CompletedToday {
		t.Fatal("list should report completed today")
	}
	if habits[0].LastCompleted == nil || habits[0].LastCompleted.Unix() != now.Unix() {
		t.Fatalf("expected last completed %v, got %v", now, habits[0].LastCompleted)
	}

	off, err := service.Toggle(ctx, habit.ID.String())
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if off.CompletedToday {
		t.Fatal("expected not completed after toggle off")
	}
	if off.Habit.Streak != 0 {
		t.Fatalf("expected streak back to 0, got %d", off.Habit.Streak)
	}
	if count := countCompletions(t, db, habit.ID); count != 0 {
		t.Fatalf("expected 0 completions, got %d", count)
	}
}

func TestStreakNeverNegative(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	service, db := setupHabitService(t, node, clk)
	userID := node.Generate()
	ctx := actorCtx(userID)

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Floss"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Completion present while the stored streak is already 0.
	completion := domain.Completion{
		ID:          node.Generate(),
		HabitID:     habit.ID,
		UserID:      userID,
		CompletedAt: now,
		Date:        now.Format(domain.DateLayout),
	}
	if err := db.Create(&completion).Error; err != nil {
		t.Fatalf("seed completion: %v", err)
	}

	off, err := service.Toggle(ctx, habit.ID.String())
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if off.Habit.Streak != 0 {
		t.Fatalf("expected streak floored at 0, got %d", off.Habit.Streak)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	node := mustNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	service, _ := setupHabitService(t, node, clk)

	actorA := node.Generate()
	actorB := node.Generate()

	habitB, err := service.Create(actorCtx(actorB), domain.CreateHabitRequest{Name: "Run"})
	if err != nil {
		t.Fatalf("create for B: %v", err)
	}
	if _, err := service.Toggle(actorCtx(actorB), habitB.ID.String()); err != nil {
		t.Fatalf("toggle for B: %v", err)
	}

	habits, err := service.List(actorCtx(actorA))
	if err != nil {
		t.Fatalf("list for A: %v", err)
	}
	if len(habits) != 0 {
		t.Fatalf("actor A sees %d foreign habits", len(habits))
	}

	// A cannot toggle, update, or delete B's habit.
	if _, err := service.Toggle(actorCtx(actorA), habitB.ID.String()); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound toggling foreign habit, got %v", err)
	}
	if err := service.Delete(actorCtx(actorA), habitB.ID.String()); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound deleting foreign habit, got %v", err)
	}
}

func TestUpdateHabitFields(t *testing.T) {
	node := mustNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	service, _ := setupHabitService(t, node, clk)
	ctx := actorCtx(node.Generate())

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Read", Description: "ten pages"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "Read More"
	updated, err := service.Update(ctx, domain.UpdateHabitRequest{ID: habit.ID.String(), Name: &name})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Read More" {
		t.Fatalf("expected renamed habit, got %q", updated.Name)
	}
	if updated.Description != "ten pages" {
		t.Fatalf("description should be untouched, got %q", updated.Description)
	}

	empty := " "
	if _, err := service.Update(ctx, domain.UpdateHabitRequest{ID: habit.ID.String(), Name: &empty}); err != domain.ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestDeleteCascadesCompletions(t *testing.T) {
	node := mustNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	service, db := setupHabitService(t, node, clk)
	ctx := actorCtx(node.Generate())

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Drink Water"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.Toggle(ctx, habit.ID.String()); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if err := service.Delete(ctx, habit.ID.String()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	habits, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(habits) != 0 {
		t.Fatalf("expected no habits after delete, got %d", len(habits))
	}
	if count := countCompletions(t, db, habit.ID); count != 0 {
		t.Fatalf("expected completions removed with habit, got %d", count)
	}

	if err := service.Delete(ctx, habit.ID.String()); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for second delete, got %v", err)
	}
}

// staleReadRepo simulates the check-then-act race: the first existence check
// reports "not completed" even though a completion row already exists, forcing
// the service into the insert branch.
type staleReadRepo struct {
	domain.Repository
	stale int32
}

func (r *staleReadRepo) FindCompletion(ctx context.Context, db *gorm.DB, userID, habitID snowflake.ID, date string) (*domain.Completion, error) {
	if atomic.CompareAndSwapInt32(&r.stale, 1, 0) {
		return nil, nil
	}
	return r.Repository.FindCompletion(ctx, db, userID, habitID, date)
}

func TestToggleLosingRaceIsNoOp(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	db := setupTestDB(t)

	repo := &staleReadRepo{Repository: repository.Provide()}
	service := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repo,
		Clock: clk,
	})
	ctx := actorCtx(node.Generate())

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Meditate"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := service.Toggle(ctx, habit.ID.String()); err != nil {
		t.Fatalf("first toggle: %v", err)
	}

	// Second toggle observes a stale "not completed" and collides with the
	// unique (habit_id, date) index.
	atomic.StoreInt32(&repo.stale, 1)
	result, err := service.Toggle(ctx, habit.ID.String())
	if err != nil {
		t.Fatalf("raced toggle: %v", err)
	}
	if !result.CompletedToday {
		t.Fatal("raced toggle should report completed today")
	}
	if result.Habit.Streak != 1 {
		t.Fatalf("losing insert must not double-count: streak %d", result.Habit.Streak)
	}
	if count := countCompletions(t, db, habit.ID); count != 1 {
		t.Fatalf("expected exactly 1 completion, got %d", count)
	}
}

func TestConcurrentTogglesStayConsistent(t *testing.T) {
	node := mustNode(t)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	service, db := setupHabitService(t, node, clk)
	ctx := actorCtx(node.Generate())

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Journal"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = service.Toggle(ctx, habit.ID.String())
		}()
	}
	wg.Wait()

	count := countCompletions(t, db, habit.ID)
	if count > 1 {
		t.Fatalf("uniqueness violated: %d completions for one day", count)
	}

	var streak int
	if err := db.Raw(`SELECT streak FROM habits WHERE id = ?`, habit.ID).Scan(&streak).Error; err != nil {
		t.Fatalf("read streak: %v", err)
	}
	if streak != count {
		t.Fatalf("streak %d diverged from completion count %d", streak, count)
	}
}

func TestListCompletionsPaginates(t *testing.T) {
	node := mustNode(t)
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	service, _ := setupHabitService(t, node, clk)
	ctx := actorCtx(node.Generate())

	habit, err := service.Create(ctx, domain.CreateHabitRequest{Name: "Walk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := service.Toggle(ctx, habit.ID.String()); err != nil {
			t.Fatalf("toggle day %d: %v", i, err)
		}
		clk.Advance(24 * time.Hour)
	}

	page, err := service.ListCompletions(ctx, domain.ListCompletionsRequest{
		HabitID:  habit.ID.String(),
		PageSize: 3,
	})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(page.Completions) != 3 {
		t.Fatalf("expected 3 completions, got %d", len(page.Completions))
	}
	if !page.HasMore {
		t.Fatal("expected more pages")
	}

	rest, err := service.ListCompletions(ctx, domain.ListCompletionsRequest{
		HabitID:   habit.ID.String(),
		PageToken: page.NextPageToken,
		PageSize:  3,
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.Completions) != 2 {
		t.Fatalf("expected 2 remaining completions, got %d", len(rest.Completions))
	}
	if rest.HasMore {
		t.Fatal("expected final page")
	}

	seen := map[string]bool{}
	for _, c := range append(page.Completions, rest.Completions...) {
		if seen[c.Date] {
			t.Fatalf("date %s returned twice across pages", c.Date)
		}
		seen[c.Date] = true
	}
}
