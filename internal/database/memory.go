package database

import (
	"context"
	"strings"
	"sync"
	"taskmarket/entity"
	"taskmarket/impl/market"
	"time"
)

// Memory is a process-local store used with env=local and in tests.
// mu serialises orders, executions, quotas, codes, sessions and link codes;
// users have their own lock so directory reads can happen inside a claim.
// Lock order is mu before umu.
type Memory struct {
	mu         sync.Mutex
	orders     map[string]*entity.Order
	executions map[string]*entity.Execution
	claims     map[string]string // order_id|executor_id → execution id
	quotas     map[entity.QuotaKey]*entity.DailyQuota
	codes      map[string]*entity.VerificationCode
	sessions   map[string]*entity.VerificationSession
	links      map[string]*entity.LinkCode

	umu   sync.RWMutex
	users map[string]*entity.User
}

func NewMemory() *Memory {
	return &Memory{
		orders:     make(map[string]*entity.Order),
		executions: make(map[string]*entity.Execution),
		claims:     make(map[string]string),
		quotas:     make(map[entity.QuotaKey]*entity.DailyQuota),
		codes:      make(map[string]*entity.VerificationCode),
		sessions:   make(map[string]*entity.VerificationSession),
		links:      make(map[string]*entity.LinkCode),
		users:      make(map[string]*entity.User),
	}
}

func claimKey(orderID, executorID string) string {
	return orderID + "|" + executorID
}

// users

func (m *Memory) SaveUser(_ context.Context, user *entity.User) error {
	m.umu.Lock()
	defer m.umu.Unlock()
	u := *user
	m.users[u.ID] = &u
	return nil
}

func (m *Memory) User(_ context.Context, id string) (*entity.User, error) {
	m.umu.RLock()
	defer m.umu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *Memory) findUser(match func(u *entity.User) bool) (*entity.User, error) {
	m.umu.RLock()
	defer m.umu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*entity.User, error) {
	email = strings.TrimSpace(email)
	return m.findUser(func(u *entity.User) bool {
		return email != "" && strings.EqualFold(u.Email, email)
	})
}

func (m *Memory) UserByPhone(_ context.Context, phone string) (*entity.User, error) {
	phone = strings.TrimSpace(phone)
	return m.findUser(func(u *entity.User) bool {
		return phone != "" && u.Phone == phone
	})
}

func (m *Memory) UserByTelegramId(_ context.Context, chatId int64) (*entity.User, error) {
	return m.findUser(func(u *entity.User) bool {
		return chatId != 0 && u.TelegramId == chatId
	})
}

func (m *Memory) AdminTelegramIds(_ context.Context) ([]int64, error) {
	m.umu.RLock()
	defer m.umu.RUnlock()
	var ids []int64
	for _, u := range m.users {
		if u.IsAdmin() && u.TelegramId != 0 {
			ids = append(ids, u.TelegramId)
		}
	}
	return ids, nil
}

// orders

func (m *Memory) SaveOrder(_ context.Context, order *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.orders[o.ID] = &o
	return nil
}

func (m *Memory) ListOrders(_ context.Context, filter entity.OrderFilter) ([]*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []*entity.Order
	for _, o := range m.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Platform != "" && o.Platform != filter.Platform {
			continue
		}
		c := *o
		orders = append(orders, &c)
	}
	return orders, nil
}

func (m *Memory) ListExecutions(_ context.Context, executorID string) ([]*entity.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var executions []*entity.Execution
	for _, e := range m.executions {
		if e.ExecutorID == executorID {
			c := *e
			executions = append(executions, &c)
		}
	}
	return executions, nil
}

func (m *Memory) GetQuota(_ context.Context, key entity.QuotaKey) (*entity.DailyQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[key]
	if !ok {
		return nil, nil
	}
	return copyQuota(q), nil
}

func copyQuota(q *entity.DailyQuota) *entity.DailyQuota {
	c := &entity.DailyQuota{
		QuotaKey:  q.QuotaKey,
		Total:     q.Total,
		Platforms: make(map[entity.Platform]int, len(q.Platforms)),
	}
	for p, n := range q.Platforms {
		c.Platforms[p] = n
	}
	return c
}

// RunClaim holds the store lock for the whole unit; every write records an
// undo step that is replayed in reverse when fn fails.
func (m *Memory) RunClaim(_ context.Context, fn func(tx market.ClaimTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memoryTx struct {
	m    *Memory
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) Order(orderID string) (*entity.Order, error) {
	o, ok := tx.m.orders[orderID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (tx *memoryTx) HasExecution(orderID, executorID string) (bool, error) {
	_, ok := tx.m.claims[claimKey(orderID, executorID)]
	return ok, nil
}

func (tx *memoryTx) IncrementQuota(key entity.QuotaKey, platform entity.Platform, dailyCeiling, platformCeiling int) error {
	q, ok := tx.m.quotas[key]
	if ok {
		if q.Total >= dailyCeiling {
			return entity.DailyLimit(dailyCeiling)
		}
		if q.Platforms[platform] >= platformCeiling {
			return entity.PlatformLimit(platform, platformCeiling)
		}
	} else {
		if dailyCeiling <= 0 {
			return entity.DailyLimit(dailyCeiling)
		}
		if platformCeiling <= 0 {
			return entity.PlatformLimit(platform, platformCeiling)
		}
		q = &entity.DailyQuota{QuotaKey: key, Platforms: make(map[entity.Platform]int)}
		tx.m.quotas[key] = q
	}
	before := copyQuota(q)
	q.Total++
	q.Platforms[platform]++
	tx.undo = append(tx.undo, func() {
		if !ok {
			delete(tx.m.quotas, key)
			return
		}
		tx.m.quotas[key] = before
	})
	return nil
}

func (tx *memoryTx) InsertExecution(execution *entity.Execution) error {
	key := claimKey(execution.OrderID, execution.ExecutorID)
	if _, ok := tx.m.claims[key]; ok {
		return entity.ErrAlreadyClaimed
	}
	e := *execution
	tx.m.executions[e.ID] = &e
	tx.m.claims[key] = e.ID
	tx.undo = append(tx.undo, func() {
		delete(tx.m.executions, e.ID)
		delete(tx.m.claims, key)
	})
	return nil
}

func (tx *memoryTx) TransitionOrder(orderID string, from, to entity.OrderStatus) error {
	o, ok := tx.m.orders[orderID]
	if !ok || o.Status != from {
		return entity.ErrOrderNotClaimable
	}
	o.Status = to
	tx.undo = append(tx.undo, func() {
		o.Status = from
	})
	return nil
}

// verification codes

func (m *Memory) SaveCode(_ context.Context, code *entity.VerificationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *code
	m.codes[c.ID] = &c
	return nil
}

func (m *Memory) ConsumeCode(_ context.Context, key entity.CodeKey, code string, now time.Time) (*entity.VerificationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.Key() != key || c.Code != code {
			continue
		}
		if !c.Usable(now) {
			continue
		}
		c.Used = true
		r := *c
		return &r, nil
	}
	return nil, entity.ErrInvalidOrExpiredCode
}

// verification sessions

func (m *Memory) CreateSession(_ context.Context, session *entity.VerificationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *session
	m.sessions[s.ID] = &s
	return nil
}

func (m *Memory) SessionByToken(_ context.Context, token string) (*entity.VerificationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if token != "" && s.Token == token {
			c := *s
			return &c, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (m *Memory) SetFactor(_ context.Context, sessionID string, channel entity.Channel) (*entity.VerificationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	switch channel {
	case entity.ChannelSMS:
		s.SmsVerified = true
	case entity.ChannelEmail:
		s.EmailVerified = true
	}
	c := *s
	return &c, nil
}

func (m *Memory) MarkAuthenticated(_ context.Context, sessionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, entity.ErrNotFound
	}
	if s.AuthenticatedAt != nil {
		return false, nil
	}
	t := at
	s.AuthenticatedAt = &t
	return true, nil
}

// telegram link codes

func (m *Memory) CreateLinkCode(_ context.Context, code *entity.LinkCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *code
	m.links[c.Code] = &c
	return nil
}

// UseLinkCode consumes the code and binds the chat to the code's user.
func (m *Memory) UseLinkCode(_ context.Context, code string, chatId int64, username string, now time.Time) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[code]
	if !ok || l.Used || !now.Before(l.ExpiresAt) {
		return nil, entity.ErrInvalidOrExpiredCode
	}

	m.umu.Lock()
	defer m.umu.Unlock()
	u, ok := m.users[l.UserID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	l.Used = true
	l.UsedBy = chatId
	l.UsedAt = now
	u.TelegramId = chatId
	u.TelegramUsername = username
	c := *u
	return &c, nil
}
