package lifecycle

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 64

// registry is the single authority on which request holds a donor. Each
// operation is one check-and-set under one shard lock.
type registry struct {
	shards []registryShard
}

type registryShard struct {
	mu      sync.Mutex
	holders map[string]string
}

func newRegistry(shards int) *registry {
	if shards <= 0 {
		shards = defaultShards
	}
	r := &registry{shards: make([]registryShard, shards)}
	for i := range r.shards {
		r.shards[i].holders = make(map[string]string)
	}
	return r
}

func (r *registry) shard(donorID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(donorID))
	return &r.shards[h.Sum32()%uint32(len(r.shards))]
}

// claim assigns donorID to requestID only if the donor is free. On failure it
// returns the request currently holding the donor.
func (r *registry) claim(donorID, requestID string) (string, bool) {
	s := r.shard(donorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, taken := s.holders[donorID]; taken {
		return holder, false
	}
	s.holders[donorID] = requestID
	return requestID, true
}

// release frees donorID only if requestID still holds it.
func (r *registry) release(donorID, requestID string) bool {
	s := r.shard(donorID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holders[donorID] != requestID {
		return false
	}
	delete(s.holders, donorID)
	return true
}

func (r *registry) holder(donorID string) (string, bool) {
	s := r.shard(donorID)
	s.mu.Lock()
	defer s.mu.Unlock()
	holder, ok := s.holders[donorID]
	return holder, ok
}

func (r *registry) size() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.holders)
		s.mu.Unlock()
	}
	return n
}
