package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"taskmarket/entity"
	"taskmarket/impl/market"
	"taskmarket/internal/config"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMongo connects to the replica set named by TASKMARKET_TEST_MONGO_HOST
// (host:port) and TASKMARKET_TEST_MONGO_RS. Each test gets its own database.
func newTestMongo(t *testing.T) *MongoDB {
	t.Helper()
	addr := os.Getenv("TASKMARKET_TEST_MONGO_HOST")
	if addr == "" {
		t.Skip("TASKMARKET_TEST_MONGO_HOST is not set")
	}
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		port = "27017"
	}
	conf := &config.Config{Mongo: config.Mongo{
		Enabled:    true,
		Host:       host,
		Port:       port,
		Database:   "taskmarket_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		User:       os.Getenv("TASKMARKET_TEST_MONGO_USER"),
		Password:   os.Getenv("TASKMARKET_TEST_MONGO_PASSWORD"),
		ReplicaSet: os.Getenv("TASKMARKET_TEST_MONGO_RS"),
	}}
	m, err := NewMongoClient(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.client.Database(m.database).Drop(context.Background())
		m.Close()
	})
	return m
}

func newMongoMarket(t *testing.T, m *MongoDB) *market.Market {
	t.Helper()
	limits := market.Limits{
		Daily: map[entity.TrustLevel]int{
			entity.LevelNovice:   3,
			entity.LevelVerified: 10,
			entity.LevelReferral: 20,
			entity.LevelTop:      50,
		},
		PerPlatform: 5,
		Location:    time.UTC,
	}
	return market.New(m, m, limits, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedMongo(t *testing.T, m *MongoDB, executors []string, level entity.TrustLevel, orders map[string]entity.Platform) {
	t.Helper()
	ctx := context.Background()
	for _, id := range executors {
		require.NoError(t, m.SaveUser(ctx, &entity.User{
			ID:         id,
			Role:       entity.RoleExecutor,
			TrustLevel: level,
			Location:   entity.Location{Country: "RU"},
		}))
	}
	for id, platform := range orders {
		require.NoError(t, m.SaveOrder(ctx, &entity.Order{
			ID:        id,
			Status:    entity.OrderPending,
			Reward:    decimal.RequireFromString("12.50"),
			Target:    entity.Location{Country: "RU"},
			Platform:  platform,
			CreatedAt: time.Now(),
			Deadline:  time.Now().Add(time.Hour),
		}))
	}
}

func claimConcurrently(mkt *market.Market, claims [][2]string) []error {
	errs := make([]error, len(claims))
	var wg sync.WaitGroup
	for i, c := range claims {
		wg.Add(1)
		go func(i int, orderID, executorID string) {
			defer wg.Done()
			_, errs[i] = mkt.ClaimOrder(context.Background(), orderID, executorID)
		}(i, c[0], c[1])
	}
	wg.Wait()
	return errs
}

func countResults(t *testing.T, errs []error, allowed error) int {
	t.Helper()
	success := 0
	for _, err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.True(t, errors.Is(err, allowed), "unexpected error: %v", err)
	}
	return success
}

func TestMongo_ClaimSameOrder(t *testing.T) {
	m := newTestMongo(t)
	executors := make([]string, 8)
	claims := make([][2]string, len(executors))
	for i := range executors {
		executors[i] = fmt.Sprintf("e%d", i)
		claims[i] = [2]string{"o1", executors[i]}
	}
	seedMongo(t, m, executors, entity.LevelNovice, map[string]entity.Platform{"o1": entity.PlatformVK})
	mkt := newMongoMarket(t, m)

	errs := claimConcurrently(mkt, claims)
	assert.Equal(t, 1, countResults(t, errs, entity.ErrOrderNotClaimable))

	pending, err := m.ListOrders(context.Background(), entity.OrderFilter{Status: entity.OrderPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMongo_ClaimDailyCeiling(t *testing.T) {
	m := newTestMongo(t)
	platforms := []entity.Platform{entity.PlatformVK, entity.PlatformTelegram, entity.PlatformTikTok, entity.PlatformDzen}
	orders := make(map[string]entity.Platform)
	claims := make([][2]string, 0, len(platforms))
	for i, p := range platforms {
		id := fmt.Sprintf("o%d", i)
		orders[id] = p
		claims = append(claims, [2]string{id, "e1"})
	}
	seedMongo(t, m, []string{"e1"}, entity.LevelNovice, orders)
	mkt := newMongoMarket(t, m)

	errs := claimConcurrently(mkt, claims)
	assert.Equal(t, 3, countResults(t, errs, entity.ErrDailyLimitReached))

	q, err := m.GetQuota(context.Background(), entity.QuotaKey{ExecutorID: "e1", Day: entity.Day(time.Now(), time.UTC)})
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 3, q.Total)

	executions, err := m.ListExecutions(context.Background(), "e1")
	require.NoError(t, err)
	assert.Len(t, executions, 3)
	for _, e := range executions {
		assert.True(t, e.Reward.Equal(decimal.RequireFromString("12.5")))
	}
}

func TestMongo_ClaimPlatformCeiling(t *testing.T) {
	m := newTestMongo(t)
	orders := make(map[string]entity.Platform)
	claims := make([][2]string, 0, 6)
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("vk%d", i)
		orders[id] = entity.PlatformVK
		claims = append(claims, [2]string{id, "e1"})
	}
	seedMongo(t, m, []string{"e1"}, entity.LevelTop, orders)
	mkt := newMongoMarket(t, m)

	errs := claimConcurrently(mkt, claims)
	assert.Equal(t, 5, countResults(t, errs, entity.ErrPlatformLimitReached))

	q, err := m.GetQuota(context.Background(), entity.QuotaKey{ExecutorID: "e1", Day: entity.Day(time.Now(), time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 5, q.PlatformCount(entity.PlatformVK))
}

func TestMongo_ClaimTwice(t *testing.T) {
	m := newTestMongo(t)
	seedMongo(t, m, []string{"e1"}, entity.LevelNovice, map[string]entity.Platform{"o1": entity.PlatformOK})
	mkt := newMongoMarket(t, m)
	ctx := context.Background()

	_, err := mkt.ClaimOrder(ctx, "o1", "e1")
	require.NoError(t, err)
	_, err = mkt.ClaimOrder(ctx, "o1", "e1")
	assert.ErrorIs(t, err, entity.ErrAlreadyClaimed)
}

func TestMongo_ConsumeCodeScope(t *testing.T) {
	m := newTestMongo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, m.SaveCode(ctx, &entity.VerificationCode{
		ID:        "c1",
		OwnerID:   "u1",
		Channel:   entity.ChannelSMS,
		Purpose:   entity.PurposeAdminLogin,
		SessionID: "s1",
		Code:      "654321",
		ExpiresAt: now.Add(time.Minute),
		CreatedAt: now,
	}))
	key := entity.CodeKey{OwnerID: "u1", Channel: entity.ChannelSMS, Purpose: entity.PurposeAdminLogin, SessionID: "s1"}

	other := key
	other.SessionID = "s2"
	_, err := m.ConsumeCode(ctx, other, "654321", now)
	assert.ErrorIs(t, err, entity.ErrInvalidOrExpiredCode)

	other = key
	other.Purpose = entity.PurposeLogin
	other.SessionID = ""
	_, err = m.ConsumeCode(ctx, other, "654321", now)
	assert.ErrorIs(t, err, entity.ErrInvalidOrExpiredCode)

	code, err := m.ConsumeCode(ctx, key, "654321", now)
	require.NoError(t, err)
	assert.True(t, code.Used)

	_, err = m.ConsumeCode(ctx, key, "654321", now)
	assert.ErrorIs(t, err, entity.ErrInvalidOrExpiredCode)
}
