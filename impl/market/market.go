// Package market implements order visibility, the daily quota tracker and the
// claim allocator.
//
// A claim runs as one unit inside Store.RunClaim: order check, executor check,
// duplicate check, conditional quota increment, execution insert and the
// conditional pending → in_progress transition either all apply or none do.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"taskmarket/entity"
	"taskmarket/lib/clock"
	"taskmarket/lib/sl"

	"github.com/google/uuid"
)

// Store is the persistence the market depends on.
// Implemented by internal/database (Mongo and memory).
type Store interface {
	ListOrders(ctx context.Context, filter entity.OrderFilter) ([]*entity.Order, error)
	SaveOrder(ctx context.Context, order *entity.Order) error
	ListExecutions(ctx context.Context, executorID string) ([]*entity.Execution, error)
	GetQuota(ctx context.Context, key entity.QuotaKey) (*entity.DailyQuota, error)
	// RunClaim executes fn as one isolated unit; a non-nil error from fn
	// discards every change fn made.
	RunClaim(ctx context.Context, fn func(tx ClaimTx) error) error
}

// ClaimTx is the view of the store inside a claim unit.
type ClaimTx interface {
	Order(orderID string) (*entity.Order, error)
	HasExecution(orderID, executorID string) (bool, error)
	// IncrementQuota adds one claim for the key and platform only if the total
	// stays within dailyCeiling and the platform count within platformCeiling.
	// The total is checked first.
	IncrementQuota(key entity.QuotaKey, platform entity.Platform, dailyCeiling, platformCeiling int) error
	InsertExecution(execution *entity.Execution) error
	// TransitionOrder changes status only if the order is currently in from,
	// otherwise returns entity.ErrOrderNotClaimable.
	TransitionOrder(orderID string, from, to entity.OrderStatus) error
}

// Directory resolves users: role, trust level and location.
type Directory interface {
	User(ctx context.Context, id string) (*entity.User, error)
}

type Market struct {
	store  Store
	dir    Directory
	limits Limits
	log    *slog.Logger
	now    clock.Func
}

func New(store Store, dir Directory, limits Limits, log *slog.Logger) *Market {
	if store == nil {
		panic("market store is nil")
	}
	return &Market{
		store:  store,
		dir:    dir,
		limits: limits,
		log:    log.With(sl.Module("market")),
	}
}

func (m *Market) SetClock(now clock.Func) {
	m.now = now
}

func (m *Market) Limits() Limits {
	return m.limits
}

// ListVisibleOrders returns pending orders whose target matches loc, newest first.
// An empty platform means all platforms.
func (m *Market) ListVisibleOrders(ctx context.Context, loc entity.Location, platform entity.Platform) ([]*entity.Order, error) {
	if platform != "" && !entity.IsValidPlatform(platform) {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	orders, err := m.store.ListOrders(ctx, entity.OrderFilter{
		Status:   entity.OrderPending,
		Platform: platform,
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	visible := make([]*entity.Order, 0, len(orders))
	for _, order := range orders {
		if order.Status != entity.OrderPending {
			continue
		}
		if Visible(order.Target, loc) {
			visible = append(visible, order)
		}
	}
	slices.SortStableFunc(visible, func(a, b *entity.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return visible, nil
}

// ListVisibleOrdersFor resolves the executor's location and lists orders for it.
func (m *Market) ListVisibleOrdersFor(ctx context.Context, executorID string, platform entity.Platform) ([]*entity.Order, error) {
	executor, err := m.executor(ctx, executorID)
	if err != nil {
		return nil, err
	}
	return m.ListVisibleOrders(ctx, executor.Location, platform)
}

// ClaimOrder gives the order to the executor. Preconditions fail fast in
// order: order claimable, executor known, not claimed before, daily ceiling,
// platform ceiling.
func (m *Market) ClaimOrder(ctx context.Context, orderID, executorID string) (*entity.Execution, error) {
	log := m.log.With(
		slog.String("order_id", orderID),
		slog.String("executor_id", executorID),
	)
	now := m.now.Now()

	var execution *entity.Execution
	err := m.store.RunClaim(ctx, func(tx ClaimTx) error {
		execution = nil

		order, err := tx.Order(orderID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return entity.ErrOrderNotClaimable
			}
			return err
		}
		if !order.IsClaimable() {
			// the executor's own claim is what moved it out of pending
			claimed, err := tx.HasExecution(orderID, executorID)
			if err != nil {
				return err
			}
			if claimed {
				return entity.ErrAlreadyClaimed
			}
			return entity.ErrOrderNotClaimable
		}

		executor, err := m.executor(ctx, executorID)
		if err != nil {
			return err
		}

		claimed, err := tx.HasExecution(orderID, executorID)
		if err != nil {
			return err
		}
		if claimed {
			return entity.ErrAlreadyClaimed
		}

		key := m.limits.Key(executorID, now)
		if err = tx.IncrementQuota(key, order.Platform, m.limits.DailyCeiling(executor.Level()), m.limits.PerPlatform); err != nil {
			return err
		}

		e := &entity.Execution{
			ID:         uuid.New().String(),
			OrderID:    order.ID,
			ExecutorID: executorID,
			Platform:   order.Platform,
			Status:     entity.ExecutionPending,
			Reward:     order.Reward,
			CreatedAt:  now,
		}
		if err = tx.InsertExecution(e); err != nil {
			return err
		}
		if err = tx.TransitionOrder(order.ID, entity.OrderPending, entity.OrderInProgress); err != nil {
			return err
		}
		execution = e
		return nil
	})
	if err != nil {
		if entity.IsDomainError(err) {
			log.Debug("claim rejected", sl.Err(err))
			return nil, err
		}
		log.Error("claim failed", sl.Err(err))
		return nil, fmt.Errorf("claim order: %w", err)
	}

	log.With(
		slog.String("execution_id", execution.ID),
		slog.String("platform", string(execution.Platform)),
		sl.Topic(entity.TopicClaim),
	).Info("order claimed")
	return execution, nil
}

// GetQuotaStatus reports today's usage and ceilings for the executor.
func (m *Market) GetQuotaStatus(ctx context.Context, executorID string) (*entity.QuotaStatus, error) {
	executor, err := m.executor(ctx, executorID)
	if err != nil {
		return nil, err
	}
	key := m.limits.Key(executorID, m.now.Now())
	quota, err := m.store.GetQuota(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}
	perPlatform := make(map[entity.Platform]int)
	if quota != nil {
		for p, n := range quota.Platforms {
			perPlatform[p] = n
		}
	}
	level := executor.Level()
	return &entity.QuotaStatus{
		Day:             key.Day,
		TrustLevel:      level,
		DailyUsed:       quota.TotalCount(),
		DailyCeiling:    m.limits.DailyCeiling(level),
		PerPlatformUsed: perPlatform,
		PlatformCeiling: m.limits.PerPlatform,
	}, nil
}

// CreateOrder posts a new pending order on behalf of a customer.
func (m *Market) CreateOrder(ctx context.Context, customerID string, draft *entity.OrderDraft) (*entity.Order, error) {
	now := m.now.Now()
	if err := draft.Validate(now); err != nil {
		return nil, err
	}
	customer, err := m.user(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.IsCustomer() && !customer.IsAdmin() {
		return nil, entity.ErrForbidden
	}
	order := &entity.Order{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		Title:      strings.TrimSpace(draft.Title),
		Status:     entity.OrderPending,
		Reward:     draft.Reward,
		Target:     draft.Target().Normalized(),
		Platform:   draft.Platform,
		CreatedAt:  now,
		Deadline:   draft.Deadline,
	}
	if err = m.store.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}
	m.log.With(
		slog.String("order_id", order.ID),
		slog.String("customer_id", customerID),
		slog.String("platform", string(order.Platform)),
		sl.Topic(entity.TopicOrder),
	).Info("order created")
	return order, nil
}

func (m *Market) ListExecutions(ctx context.Context, executorID string) ([]*entity.Execution, error) {
	if _, err := m.executor(ctx, executorID); err != nil {
		return nil, err
	}
	executions, err := m.store.ListExecutions(ctx, executorID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	slices.SortStableFunc(executions, func(a, b *entity.Execution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return executions, nil
}

func (m *Market) user(ctx context.Context, id string) (*entity.User, error) {
	if m.dir == nil {
		return nil, fmt.Errorf("directory not connected")
	}
	return m.dir.User(ctx, id)
}

// executor maps a missing or non-executor user to ErrExecutorNotFound.
func (m *Market) executor(ctx context.Context, id string) (*entity.User, error) {
	user, err := m.user(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, entity.ErrExecutorNotFound
		}
		return nil, err
	}
	if user == nil || !user.IsExecutor() {
		return nil, entity.ErrExecutorNotFound
	}
	return user, nil
}
