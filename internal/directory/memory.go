package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Store = (*InMemory)(nil)

type memUnit struct {
	unit Unit
	subs map[string]struct{}
}

type memOrg struct {
	org   Organization
	units map[int64]*memUnit
}

type pair struct{ orgID, unitID int64 }

// InMemory implements Store with in-process concurrency safety. Used by tests
// and as the dev-mode backend when no DSN is configured.
type InMemory struct {
	mu       sync.RWMutex
	orgs     map[int64]*memOrg
	slugs    map[string]int64 // org slug -> id
	index    map[string]map[pair]struct{}
	nextOrg  int64
	nextUnit int64
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		orgs:  make(map[int64]*memOrg),
		slugs: make(map[string]int64),
		index: make(map[string]map[pair]struct{}),
	}
}

func (s *InMemory) AddOrganization(ctx context.Context, slug, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.slugs[slug]; ok {
		return id, ErrAlreadyExists
	}
	s.nextOrg++
	id := s.nextOrg
	s.orgs[id] = &memOrg{
		org:   Organization{ID: id, Slug: slug, Name: name, CreatedAt: time.Now().UTC()},
		units: make(map[int64]*memUnit),
	}
	s.slugs[slug] = id
	return id, nil
}

func (s *InMemory) AddUnit(ctx context.Context, orgID int64, slug, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return 0, ErrOrgNotFound
	}
	for id, u := range org.units {
		if u.unit.Slug == slug {
			return id, ErrAlreadyExists
		}
	}
	s.nextUnit++
	id := s.nextUnit
	org.units[id] = &memUnit{
		unit: Unit{ID: id, OrgID: orgID, Slug: slug, Name: name, CreatedAt: time.Now().UTC()},
		subs: make(map[string]struct{}),
	}
	return id, nil
}

func (s *InMemory) RemoveOrganization(ctx context.Context, orgID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return ErrOrgNotFound
	}
	for unitID, u := range org.units {
		for user := range u.subs {
			delete(s.index[user], pair{orgID, unitID})
		}
	}
	delete(s.slugs, org.org.Slug)
	delete(s.orgs, orgID)
	return nil
}

func (s *InMemory) RemoveUnit(ctx context.Context, orgID, unitID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return ErrUnitNotFound
	}
	u, ok := org.units[unitID]
	if !ok {
		return ErrUnitNotFound
	}
	for user := range u.subs {
		delete(s.index[user], pair{orgID, unitID})
	}
	delete(org.units, unitID)
	return nil
}

func (s *InMemory) Subscribers(ctx context.Context, orgID, unitID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := s.unit(orgID, unitID)
	if err != nil {
		return nil, err
	}
	// snapshot copy
	out := make([]string, 0, len(u.subs))
	for user := range u.subs {
		out = append(out, user)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) ListOrganizations(ctx context.Context) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o.org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) ListUnits(ctx context.Context, orgID int64) ([]Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[orgID]
	if !ok {
		return nil, ErrOrgNotFound
	}
	out := make([]Unit, 0, len(org.units))
	for _, u := range org.units {
		out = append(out, u.unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Apply(ctx context.Context, userID string, ops []SubscriptionOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating anything so a failing op
	// cannot leave the set and the index diverged.
	units := make([]*memUnit, len(ops))
	for i, op := range ops {
		u, err := s.unit(op.OrgID, op.UnitID)
		if err != nil {
			return fmt.Errorf("apply op %d (%d/%d): %w", i, op.OrgID, op.UnitID, err)
		}
		units[i] = u
	}
	for i, op := range ops {
		key := pair{op.OrgID, op.UnitID}
		switch op.Kind {
		case Subscribe:
			units[i].subs[userID] = struct{}{}
			if s.index[userID] == nil {
				s.index[userID] = make(map[pair]struct{})
			}
			s.index[userID][key] = struct{}{}
		case Unsubscribe:
			delete(units[i].subs, userID)
			delete(s.index[userID], key)
		default:
			return fmt.Errorf("apply op %d: unknown kind %d", i, op.Kind)
		}
	}
	return nil
}

func (s *InMemory) SubscriptionsOf(ctx context.Context, userID string) (map[int64][]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[int64][]int64)
	for key := range s.index[userID] {
		res[key.orgID] = append(res[key.orgID], key.unitID)
	}
	for _, units := range res {
		sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	}
	return res, nil
}

func (s *InMemory) Retire(ctx context.Context, orgID, unitID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.unit(orgID, unitID)
	if err != nil {
		// Unit removed mid-dispatch; nothing left to retire.
		return nil
	}
	delete(u.subs, userID)
	delete(s.index[userID], pair{orgID, unitID})
	return nil
}

func (s *InMemory) unit(orgID, unitID int64) (*memUnit, error) {
	org, ok := s.orgs[orgID]
	if !ok {
		return nil, ErrUnitNotFound
	}
	u, ok := org.units[unitID]
	if !ok {
		return nil, ErrUnitNotFound
	}
	return u, nil
}
