package escrow

import (
	"context"
	"sync"
	"time"
)

// MemStore is the in-memory Store. Deals are held behind a registry lock for
// id allocation and lookup, plus one mutex per deal so that transitions on a
// single deal serialize without blocking unrelated deals. Deals are never
// deleted; terminal deals stay queryable.
type MemStore struct {
	mu    sync.RWMutex
	deals map[string]*memDeal
	byRef map[string]string
	order []string

	idGen func() string
	now   func() time.Time
}

type memDeal struct {
	mu   sync.Mutex
	deal Deal
}

func NewMemStore() *MemStore {
	return &MemStore{
		deals: make(map[string]*memDeal),
		byRef: make(map[string]string),
		idGen: NewDealID,
		now:   time.Now,
	}
}

// WithIDGenerator overrides id allocation, for tests.
func (s *MemStore) WithIDGenerator(gen func() string) *MemStore {
	s.idGen = gen
	return s
}

// WithClock overrides the creation timestamp source, for tests.
func (s *MemStore) WithClock(now func() time.Time) *MemStore {
	s.now = now
	return s
}

func (s *MemStore) Create(ctx context.Context, creator string, params OpenParams) (Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Reference != "" {
		if _, taken := s.byRef[params.Reference]; taken {
			return Deal{}, ErrReferenceTaken
		}
	}

	var id string
	for {
		id = s.idGen()
		if _, exists := s.deals[id]; !exists {
			break
		}
	}

	deal := Deal{
		ID:        id,
		Payer:     params.Payer,
		Payee:     params.Payee,
		Amount:    params.Amount,
		Note:      params.Note,
		Creator:   creator,
		Reference: params.Reference,
		Status:    StatusOpen,
		CreatedAt: s.now(),
	}

	s.deals[id] = &memDeal{deal: deal}
	s.order = append(s.order, id)
	if params.Reference != "" {
		s.byRef[params.Reference] = id
	}

	return deal, nil
}

func (s *MemStore) Get(ctx context.Context, id string) (Deal, error) {
	s.mu.RLock()
	slot, ok := s.deals[id]
	s.mu.RUnlock()
	if !ok {
		return Deal{}, ErrNotFound
	}
	return slot.snapshot(), nil
}

func (s *MemStore) ResolveByReference(ctx context.Context, ref string) (Deal, error) {
	s.mu.RLock()
	id, ok := s.byRef[ref]
	s.mu.RUnlock()
	if !ok {
		return Deal{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemStore) ListFor(ctx context.Context, identity, handle string) ([]Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Deal, 0, 8)
	for _, id := range s.order {
		slot := s.deals[id]
		deal := slot.snapshot()
		if matchesActor(deal, identity, handle) {
			out = append(out, deal)
		}
	}
	return out, nil
}

func (s *MemStore) Mutate(ctx context.Context, id string, fn func(*Deal) error) (Deal, error) {
	s.mu.RLock()
	slot, ok := s.deals[id]
	s.mu.RUnlock()
	if !ok {
		return Deal{}, ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	next := slot.deal
	if err := fn(&next); err != nil {
		return slot.deal, err
	}
	slot.deal = next
	return next, nil
}

func (d *memDeal) snapshot() Deal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deal
}

// matchesActor reports whether the actor identified by identity or handle is
// the deal's creator, payer, or payee. Matching is by plain string equality:
// handles are advisory display data, not verified account links.
func matchesActor(d Deal, identity, handle string) bool {
	for _, who := range []string{d.Creator, d.Payer, d.Payee} {
		if who == "" {
			continue
		}
		if who == identity || (handle != "" && who == handle) {
			return true
		}
	}
	return false
}
