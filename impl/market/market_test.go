package market_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"taskmarket/entity"
	"taskmarket/impl/market"
	"taskmarket/internal/database"
	"taskmarket/lib/clock"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testLimits() market.Limits {
	return market.Limits{
		Daily: map[entity.TrustLevel]int{
			entity.LevelNovice:   3,
			entity.LevelVerified: 10,
			entity.LevelReferral: 20,
			entity.LevelTop:      50,
		},
		PerPlatform: 5,
		Location:    time.UTC,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mem    *database.Memory
	market *market.Market
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := database.NewMemory()
	f := &fixture{mem: mem, now: testNow}
	f.market = market.New(mem, mem, testLimits(), discardLogger())
	f.market.SetClock(func() time.Time { return f.now })

	f.addUser(t, &entity.User{ID: "customer", Role: entity.RoleCustomer, Name: "Customer"})
	return f
}

func (f *fixture) addUser(t *testing.T, u *entity.User) {
	t.Helper()
	require.NoError(t, f.mem.SaveUser(context.Background(), u))
}

func (f *fixture) addExecutor(t *testing.T, id string, level entity.TrustLevel) {
	t.Helper()
	f.addUser(t, &entity.User{
		ID:         id,
		Role:       entity.RoleExecutor,
		Name:       id,
		TrustLevel: level,
		Location:   entity.Location{Country: "RU", Region: "Tatarstan", City: "Kazan"},
	})
}

func (f *fixture) addOrder(t *testing.T, id string, platform entity.Platform) *entity.Order {
	t.Helper()
	o := &entity.Order{
		ID:         id,
		CustomerID: "customer",
		Title:      "order " + id,
		Status:     entity.OrderPending,
		Reward:     decimal.RequireFromString("100.25"),
		Target:     entity.Location{Country: "RU"},
		Platform:   platform,
		CreatedAt:  f.now,
		Deadline:   f.now.Add(48 * time.Hour),
	}
	require.NoError(t, f.mem.SaveOrder(context.Background(), o))
	return o
}

func (f *fixture) quota(t *testing.T, executorID string) *entity.DailyQuota {
	t.Helper()
	q, err := f.mem.GetQuota(context.Background(), entity.QuotaKey{ExecutorID: executorID, Day: entity.Day(f.now, time.UTC)})
	require.NoError(t, err)
	return q
}

func (f *fixture) orderStatus(t *testing.T, id string) entity.OrderStatus {
	t.Helper()
	orders, err := f.mem.ListOrders(context.Background(), entity.OrderFilter{})
	require.NoError(t, err)
	for _, o := range orders {
		if o.ID == id {
			return o.Status
		}
	}
	t.Fatalf("order %s not found", id)
	return ""
}

func TestClaimOrder(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	f.addOrder(t, "o1", entity.PlatformVK)
	ctx := context.Background()

	execution, err := f.market.ClaimOrder(ctx, "o1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "o1", execution.OrderID)
	assert.Equal(t, "e1", execution.ExecutorID)
	assert.Equal(t, entity.ExecutionPending, execution.Status)
	assert.True(t, execution.Reward.Equal(decimal.RequireFromString("100.25")))
	assert.Equal(t, testNow, execution.CreatedAt)

	assert.Equal(t, entity.OrderInProgress, f.orderStatus(t, "o1"))
	q := f.quota(t, "e1")
	assert.Equal(t, 1, q.Total)
	assert.Equal(t, 1, q.PlatformCount(entity.PlatformVK))

	executions, err := f.market.ListExecutions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, execution.ID, executions[0].ID)
}

func TestClaimOrder_SameExecutorTwice(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	f.addOrder(t, "o1", entity.PlatformVK)
	ctx := context.Background()

	_, err := f.market.ClaimOrder(ctx, "o1", "e1")
	require.NoError(t, err)

	_, err = f.market.ClaimOrder(ctx, "o1", "e1")
	assert.ErrorIs(t, err, entity.ErrAlreadyClaimed)
	assert.Equal(t, 1, f.quota(t, "e1").Total, "rejected claim must not count")
}

func TestClaimOrder_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	f.addExecutor(t, "e2", entity.LevelNovice)
	f.addOrder(t, "o1", entity.PlatformVK)
	ctx := context.Background()

	_, err := f.market.ClaimOrder(ctx, "missing", "e1")
	assert.ErrorIs(t, err, entity.ErrOrderNotClaimable)

	_, err = f.market.ClaimOrder(ctx, "o1", "nobody")
	assert.ErrorIs(t, err, entity.ErrExecutorNotFound)

	_, err = f.market.ClaimOrder(ctx, "o1", "customer")
	assert.ErrorIs(t, err, entity.ErrExecutorNotFound, "customers cannot claim")

	_, err = f.market.ClaimOrder(ctx, "o1", "e1")
	require.NoError(t, err)

	_, err = f.market.ClaimOrder(ctx, "o1", "e2")
	assert.ErrorIs(t, err, entity.ErrOrderNotClaimable)
	assert.Nil(t, f.quota(t, "e2"))
}

func TestClaimOrder_DailyLimit(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	platforms := []entity.Platform{entity.PlatformVK, entity.PlatformTelegram, entity.PlatformTikTok, entity.PlatformDzen}
	for i, p := range platforms {
		f.addOrder(t, fmt.Sprintf("o%d", i), p)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.market.ClaimOrder(ctx, fmt.Sprintf("o%d", i), "e1")
		require.NoError(t, err)
	}

	_, err := f.market.ClaimOrder(ctx, "o3", "e1")
	require.ErrorIs(t, err, entity.ErrDailyLimitReached)
	var limit *entity.LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 3, limit.Ceiling)

	assert.Equal(t, entity.OrderPending, f.orderStatus(t, "o3"))
	assert.Equal(t, 3, f.quota(t, "e1").Total)
}

func TestClaimOrder_PlatformLimit(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelVerified)
	for i := 0; i < 6; i++ {
		f.addOrder(t, fmt.Sprintf("vk%d", i), entity.PlatformVK)
	}
	f.addOrder(t, "tg", entity.PlatformTelegram)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.market.ClaimOrder(ctx, fmt.Sprintf("vk%d", i), "e1")
		require.NoError(t, err)
	}

	_, err := f.market.ClaimOrder(ctx, "vk5", "e1")
	require.ErrorIs(t, err, entity.ErrPlatformLimitReached)
	var limit *entity.LimitError
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 5, limit.Ceiling)
	assert.Equal(t, entity.PlatformVK, limit.Platform)

	_, err = f.market.ClaimOrder(ctx, "tg", "e1")
	require.NoError(t, err, "other platforms stay open")

	q := f.quota(t, "e1")
	assert.Equal(t, 6, q.Total)
	assert.Equal(t, 5, q.PlatformCount(entity.PlatformVK))
	assert.Equal(t, 1, q.PlatformCount(entity.PlatformTelegram))
}

func TestClaimOrder_DailyCheckedBeforePlatform(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	for i := 0; i < 4; i++ {
		f.addOrder(t, fmt.Sprintf("vk%d", i), entity.PlatformVK)
	}
	ctx := context.Background()
	f.market = market.New(f.mem, f.mem, market.Limits{
		Daily:       map[entity.TrustLevel]int{entity.LevelNovice: 3},
		PerPlatform: 3,
		Location:    time.UTC,
	}, discardLogger())
	f.market.SetClock(clock.Fixed(testNow))

	for i := 0; i < 3; i++ {
		_, err := f.market.ClaimOrder(ctx, fmt.Sprintf("vk%d", i), "e1")
		require.NoError(t, err)
	}
	_, err := f.market.ClaimOrder(ctx, "vk3", "e1")
	assert.ErrorIs(t, err, entity.ErrDailyLimitReached)
}

func TestClaimOrder_NewDayNewQuota(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	for i := 0; i < 4; i++ {
		f.addOrder(t, fmt.Sprintf("o%d", i), entity.PlatformVK)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.market.ClaimOrder(ctx, fmt.Sprintf("o%d", i), "e1")
		require.NoError(t, err)
	}
	_, err := f.market.ClaimOrder(ctx, "o3", "e1")
	require.ErrorIs(t, err, entity.ErrDailyLimitReached)

	f.now = testNow.Add(24 * time.Hour)
	_, err = f.market.ClaimOrder(ctx, "o3", "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.quota(t, "e1").Total)
}

// failingStore breaks the last step of the claim unit.
type failingStore struct {
	*database.Memory
}

func (s failingStore) RunClaim(ctx context.Context, fn func(tx market.ClaimTx) error) error {
	return s.Memory.RunClaim(ctx, func(tx market.ClaimTx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	market.ClaimTx
}

func (failingTx) TransitionOrder(string, entity.OrderStatus, entity.OrderStatus) error {
	return errors.New("write failed")
}

func TestClaimOrder_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	f.addOrder(t, "o1", entity.PlatformVK)
	ctx := context.Background()

	m := market.New(failingStore{f.mem}, f.mem, testLimits(), discardLogger())
	_, err := m.ClaimOrder(ctx, "o1", "e1")
	require.Error(t, err)
	assert.False(t, entity.IsDomainError(err))

	assert.Nil(t, f.quota(t, "e1"), "quota increment rolled back")
	executions, err := f.mem.ListExecutions(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, executions)
	assert.Equal(t, entity.OrderPending, f.orderStatus(t, "o1"))

	_, err = f.market.ClaimOrder(ctx, "o1", "e1")
	require.NoError(t, err, "order stays claimable after a failed unit")
}

func TestClaimOrder_ConcurrentSameOrder(t *testing.T) {
	f := newFixture(t)
	const executors = 20
	for i := 0; i < executors; i++ {
		f.addExecutor(t, fmt.Sprintf("e%d", i), entity.LevelNovice)
	}
	f.addOrder(t, "o1", entity.PlatformVK)

	errs := make([]error, executors)
	var wg sync.WaitGroup
	for i := 0; i < executors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.market.ClaimOrder(context.Background(), "o1", fmt.Sprintf("e%d", i))
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, entity.ErrOrderNotClaimable)
	}
	assert.Equal(t, 1, success)
}

func TestClaimOrder_ConcurrentDailyCeiling(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	platforms := []entity.Platform{entity.PlatformVK, entity.PlatformTelegram, entity.PlatformTikTok, entity.PlatformDzen}
	for i, p := range platforms {
		f.addOrder(t, fmt.Sprintf("o%d", i), p)
	}

	errs := runClaims(f, "e1", len(platforms), "o%d")

	success, limited := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, entity.ErrDailyLimitReached):
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, success)
	assert.GreaterOrEqual(t, limited, 1)
	assert.Equal(t, 3, f.quota(t, "e1").Total)
}

func TestClaimOrder_ConcurrentPlatformCeiling(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelTop)
	for i := 0; i < 6; i++ {
		f.addOrder(t, fmt.Sprintf("vk%d", i), entity.PlatformVK)
	}

	errs := runClaims(f, "e1", 6, "vk%d")

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.ErrorIs(t, err, entity.ErrPlatformLimitReached)
	}
	assert.Equal(t, 5, success)
	assert.Equal(t, 5, f.quota(t, "e1").PlatformCount(entity.PlatformVK))
}

func runClaims(f *fixture, executorID string, n int, orderFormat string) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.market.ClaimOrder(context.Background(), fmt.Sprintf(orderFormat, i), executorID)
		}(i)
	}
	wg.Wait()
	return errs
}

func TestGetQuotaStatus(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelReferral)
	f.addOrder(t, "o1", entity.PlatformYouTube)
	ctx := context.Background()

	status, err := f.market.GetQuotaStatus(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.DailyUsed)
	assert.Equal(t, 20, status.DailyCeiling)
	assert.Equal(t, entity.LevelReferral, status.TrustLevel)
	assert.Equal(t, "2025-03-01", status.Day)

	_, err = f.market.ClaimOrder(ctx, "o1", "e1")
	require.NoError(t, err)

	status, err = f.market.GetQuotaStatus(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, status.DailyUsed)
	assert.Equal(t, 1, status.PerPlatformUsed[entity.PlatformYouTube])
	assert.Equal(t, 5, status.PlatformCeiling)

	_, err = f.market.GetQuotaStatus(ctx, "customer")
	assert.ErrorIs(t, err, entity.ErrExecutorNotFound)
}

func TestListVisibleOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	save := func(id string, target entity.Location, created time.Time, status entity.OrderStatus) {
		require.NoError(t, f.mem.SaveOrder(ctx, &entity.Order{
			ID:        id,
			Status:    status,
			Target:    target,
			Platform:  entity.PlatformVK,
			CreatedAt: created,
		}))
	}
	save("kazan", entity.Location{Country: "RU", City: "Kazan"}, testNow.Add(-3*time.Hour), entity.OrderPending)
	save("oblast", entity.Location{Country: "RU", Region: "Moscow Oblast"}, testNow.Add(-2*time.Hour), entity.OrderPending)
	save("country", entity.Location{Country: "Russia"}, testNow.Add(-time.Hour), entity.OrderPending)
	save("taken", entity.Location{Country: "RU"}, testNow, entity.OrderInProgress)

	kazan := entity.Location{Country: "RU", Region: "Tatarstan", City: "kazan"}
	orders, err := f.market.ListVisibleOrders(ctx, kazan, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "kazan"}, ids(orders))

	podolsk := entity.Location{Country: "RU", Region: "Moscow Oblast", City: "Podolsk"}
	orders, err = f.market.ListVisibleOrders(ctx, podolsk, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"country", "oblast"}, ids(orders))

	moscow := entity.Location{Country: "RU", Region: "Moscow Oblast", City: "Moscow"}
	orders, err = f.market.ListVisibleOrders(ctx, moscow, entity.PlatformVK)
	require.NoError(t, err)
	assert.NotContains(t, ids(orders), "kazan")

	orders, err = f.market.ListVisibleOrders(ctx, moscow, entity.PlatformTikTok)
	require.NoError(t, err)
	assert.Empty(t, orders)

	_, err = f.market.ListVisibleOrders(ctx, moscow, "myspace")
	assert.Error(t, err)
}

func ids(orders []*entity.Order) []string {
	result := make([]string, 0, len(orders))
	for _, o := range orders {
		result = append(result, o.ID)
	}
	return result
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	f.addExecutor(t, "e1", entity.LevelNovice)
	ctx := context.Background()
	draft := &entity.OrderDraft{
		Title:    " Like and repost ",
		Reward:   decimal.RequireFromString("50"),
		Platform: entity.PlatformInstagram,
		Country:  "Russia",
		City:     "Kazan",
		Deadline: testNow.Add(72 * time.Hour),
	}

	order, err := f.market.CreateOrder(ctx, "customer", draft)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderPending, order.Status)
	assert.Equal(t, "Like and repost", order.Title)
	assert.Equal(t, "RU", order.Target.Country)

	orders, err := f.market.ListVisibleOrdersFor(ctx, "e1", entity.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, ids(orders))

	_, err = f.market.CreateOrder(ctx, "e1", draft)
	assert.ErrorIs(t, err, entity.ErrForbidden)
}
