package refresh

import (
	"sync/atomic"

	"techpulse/internal/domain/entity"
)

// Store holds the published set of every resource. Sets are swapped whole;
// readers never observe a partially built set.
type Store struct {
	order []entity.ResourceType
	sets  map[entity.ResourceType]*atomic.Pointer[entity.CachedResourceSet]
}

// NewStore creates a Store serving the given resources.
func NewStore(resources ...entity.ResourceType) *Store {
	s := &Store{sets: make(map[entity.ResourceType]*atomic.Pointer[entity.CachedResourceSet], len(resources))}
	for _, r := range resources {
		if _, dup := s.sets[r]; dup {
			continue
		}
		s.order = append(s.order, r)
		s.sets[r] = new(atomic.Pointer[entity.CachedResourceSet])
	}
	return s
}

// Resources lists the served resources in registration order.
func (s *Store) Resources() []entity.ResourceType {
	out := make([]entity.ResourceType, len(s.order))
	copy(out, s.order)
	return out
}

// Get returns the published set, or nil when nothing has been published yet.
func (s *Store) Get(r entity.ResourceType) (*entity.CachedResourceSet, error) {
	p, ok := s.sets[r]
	if !ok {
		return nil, entity.ErrUnknownResource
	}
	return p.Load(), nil
}

// Put publishes set for its resource.
func (s *Store) Put(set *entity.CachedResourceSet) error {
	p, ok := s.sets[set.Resource]
	if !ok {
		return entity.ErrUnknownResource
	}
	p.Store(set)
	return nil
}
