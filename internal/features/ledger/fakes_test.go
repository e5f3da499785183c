package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/audit"
	"serotonyl.ru/credit-ledger/internal/features/plans"
)

// memStore — хранилище в памяти с семантикой транзакций:
// WithinTx выполняется по одному (как блокировка строки баланса),
// изменения видны другим только после успешного завершения fn.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users    map[string]bool
	plans    map[string]*plans.Plan
	subs     map[string]string
	balances map[string]Balance
	txs      map[string]*Transaction

	hideOnce   map[string]bool // Guard один раз не видит эту операцию
	failCommit error           // Ошибка, которой завершится следующий WithinTx
	clock      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]bool{},
		plans:    map[string]*plans.Plan{},
		subs:     map[string]string{},
		balances: map[string]Balance{},
		txs:      map[string]*Transaction{},
		hideOnce: map[string]bool{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) addPlan(tier, multiplier, purchaseRate string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[tier] = &plans.Plan{
		Tier:         tier,
		Name:         tier,
		Multiplier:   decimal.RequireFromString(multiplier),
		PurchaseRate: decimal.RequireFromString(purchaseRate),
		Active:       active,
	}
}

func (m *memStore) addUser(id, tier string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = true
	if tier != "" {
		m.subs[id] = tier
	}
	if balance > 0 {
		m.balances[id] = Balance{UserID: id, Balance: balance, TotalEarned: balance}
	}
}

func (m *memStore) balanceOf(id string) Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

func (m *memStore) txCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

func (m *memStore) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID], nil
}

func (m *memStore) GetTransactionByOperationID(_ context.Context, operationID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOnce[operationID] {
		delete(m.hideOnce, operationID)
		return nil, common.ErrTransactionNotFound
	}
	t, ok := m.txs[operationID]
	if !ok {
		return nil, common.ErrTransactionNotFound
	}
	return t, nil
}

func (m *memStore) GetSubscriptionPlan(_ context.Context, userID string) (*plans.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tier, ok := m.subs[userID]
	if !ok {
		return nil, common.ErrSubscriptionNotFound
	}
	p := *m.plans[tier]
	return &p, nil
}

func (m *memStore) GetPlan(_ context.Context, tier string) (*plans.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[tier]
	if !ok {
		return nil, common.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetOrCreateBalance(_ context.Context, userID string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		b = Balance{UserID: userID}
		m.balances[userID] = b
	}
	return &b, nil
}

func (m *memStore) ListTransactions(_ context.Context, userID string, limit, offset int) ([]*Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Transaction
	for _, t := range m.txs {
		if t.UserID == userID {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx StoreTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	staged := &memTx{store: m, balances: map[string]Balance{}, subs: map[string]string{}}
	if err := fn(staged); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		err := m.failCommit
		m.failCommit = nil
		return err
	}
	for id, b := range staged.balances {
		m.balances[id] = b
	}
	for id, tier := range staged.subs {
		m.subs[id] = tier
	}
	for _, t := range staged.txs {
		// Метаданные проходят через JSON, как через колонку JSONB
		raw, _ := json.Marshal(t.Metadata)
		stored := *t
		stored.Metadata = nil
		_ = json.Unmarshal(raw, &stored.Metadata)
		m.txs[t.OperationID] = &stored
	}
	return nil
}

type memTx struct {
	store    *memStore
	balances map[string]Balance
	subs     map[string]string
	txs      []*Transaction
}

func (t *memTx) LockBalance(_ context.Context, userID string) (*Balance, error) {
	if b, ok := t.balances[userID]; ok {
		return &b, nil
	}
	t.store.mu.Lock()
	b, ok := t.store.balances[userID]
	t.store.mu.Unlock()
	if !ok {
		b = Balance{UserID: userID}
	}
	t.balances[userID] = b
	return &b, nil
}

func (t *memTx) UpdateBalance(_ context.Context, b *Balance) error {
	if b.Balance != b.TotalEarned-b.TotalSpent {
		return errors.New("check constraint balances_triple_check")
	}
	if b.Balance < 0 {
		return errors.New("check constraint balances_non_negative")
	}
	t.balances[b.UserID] = *b
	return nil
}

func (t *memTx) SwitchSubscription(_ context.Context, userID, tier string) (*string, error) {
	prev, ok := t.subs[userID]
	if !ok {
		t.store.mu.Lock()
		prev, ok = t.store.subs[userID]
		t.store.mu.Unlock()
	}
	t.subs[userID] = tier
	if !ok {
		return nil, nil
	}
	return &prev, nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx *Transaction) error {
	if tx.BalanceAfter != tx.BalanceBefore+tx.Credits {
		return errors.New("check constraint transactions_balance_check")
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, exists := t.store.txs[tx.OperationID]; exists {
		return ErrDuplicateOperation
	}
	t.store.clock = t.store.clock.Add(time.Second)
	tx.CreatedAt = t.store.clock
	t.txs = append(t.txs, tx)
	return nil
}

// memCache — кэш балансов в памяти с поколениями, как у Redis-адаптера.
// down имитирует недоступный Redis.
type memCache struct {
	mu          sync.Mutex
	data        map[string]Balance
	gens        map[string]int64
	invalidated []string
	down        bool
}

func newMemCache() *memCache {
	return &memCache{data: map[string]Balance{}, gens: map[string]int64{}}
}

func (c *memCache) Get(_ context.Context, userID string) (*Balance, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, -1, false
	}
	b, ok := c.data[userID]
	if !ok {
		return nil, c.gens[userID], false
	}
	return &b, c.gens[userID], true
}

func (c *memCache) Set(_ context.Context, b *Balance, gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down || gen < 0 || gen != c.gens[b.UserID] {
		return
	}
	c.data[b.UserID] = *b
}

func (c *memCache) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	if c.down {
		return
	}
	c.gens[userID]++
	delete(c.data, userID)
}

func (c *memCache) has(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[userID]
	return ok
}

// stallingStore останавливает первое чтение баланса вне транзакции после
// того, как значение уже прочитано: read закрывается, чтение ждёт resume.
type stallingStore struct {
	*memStore
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func newStallingStore(m *memStore) *stallingStore {
	return &stallingStore{memStore: m, read: make(chan struct{}), resume: make(chan struct{})}
}

func (s *stallingStore) GetOrCreateBalance(ctx context.Context, userID string) (*Balance, error) {
	b, err := s.memStore.GetOrCreateBalance(ctx, userID)
	s.once.Do(func() {
		close(s.read)
		<-s.resume
	})
	return b, err
}

type staticRate struct {
	rate int64
}

func (r staticRate) BaseRate(context.Context) (int64, error) { return r.rate, nil }

type memAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *memAuditor) Record(_ context.Context, e audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAuditor) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
