package report

import "sync"

// CacheStore keeps the most recent reports in memory in front of a
// backing Store. Retention is small (a handful of runs), so recency is
// tracked with a plain ordered slice.
type CacheStore struct {
	mu   sync.Mutex
	cap  int
	back Store

	order []string // least recent first
	items map[string]*Report
}

// NewCacheStore wraps back with an in-memory cache of at most cap runs.
func NewCacheStore(cap int, back Store) *CacheStore {
	if cap < 1 {
		cap = 1
	}
	return &CacheStore{
		cap:   cap,
		back:  back,
		items: make(map[string]*Report, cap),
	}
}

// Save caches the report and delegates to the backing store.
func (s *CacheStore) Save(r *Report) error {
	s.mu.Lock()
	s.touch(r.ID, r)
	s.mu.Unlock()
	return s.back.Save(r)
}

// Load checks the cache first; on a miss the report is loaded from the
// backing store and promoted.
func (s *CacheStore) Load(runID string) (*Report, error) {
	s.mu.Lock()
	if r, ok := s.items[runID]; ok {
		s.touch(runID, r)
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	r, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.touch(runID, r)
	s.mu.Unlock()
	return r, nil
}

// touch records id as most recent, evicting the oldest entry past cap.
// Caller holds mu.
func (s *CacheStore) touch(id string, r *Report) {
	if _, ok := s.items[id]; ok {
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.order = append(s.order, id)
	s.items[id] = r

	for len(s.order) > s.cap {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.items, evicted)
	}
}
