package engine

const defaultConfirmedIDCap = 500

// confirmedSet is the bounded set of server message ids already reconciled,
// making inbound delivery idempotent. On overflow the set is cleared in full
// rather than evicted incrementally, which opens a brief idempotence gap
// right after the clear.
type confirmedSet struct {
	cap int
	ids map[string]struct{}
}

func newConfirmedSet(capacity int) *confirmedSet {
	if capacity <= 0 {
		capacity = defaultConfirmedIDCap
	}
	return &confirmedSet{cap: capacity, ids: make(map[string]struct{})}
}

func (s *confirmedSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *confirmedSet) Add(id string) {
	s.ids[id] = struct{}{}
}

func (s *confirmedSet) Len() int {
	return len(s.ids)
}

func (s *confirmedSet) Clear() {
	s.ids = make(map[string]struct{})
}

// EnsureBound clears the set once the bound is exceeded. Called before each
// inbound message event is reconciled.
func (s *confirmedSet) EnsureBound() {
	if len(s.ids) > s.cap {
		s.ids = make(map[string]struct{})
	}
}
