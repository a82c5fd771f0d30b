package ring

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
)

// DefaultVNodes is used when a non-positive vnode count is requested.
const DefaultVNodes = 128

// Shard is a member of the ring.
type Shard struct {
	ID   string
	Addr string
}

// vnode represents a virtual node on the ring.
type vnode struct {
	hash    uint32
	shardID string
}

// Ring implements consistent hashing with virtual nodes.
type Ring struct {
	mu             sync.RWMutex
	vnodesPerShard int
	vnodes         []vnode
	shards         map[string]Shard // shardID -> Shard
}

// New creates an empty ring.
func New(vnodesPerShard int) *Ring {
	if vnodesPerShard <= 0 {
		vnodesPerShard = DefaultVNodes
	}
	return &Ring{
		vnodesPerShard: vnodesPerShard,
		shards:         make(map[string]Shard),
	}
}

// SetShards rebuilds the ring from scratch. The same shards always produce
// the same ring regardless of order.
func (r *Ring) SetShards(shards []Shard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shards = make(map[string]Shard, len(shards))
	r.vnodes = make([]vnode, 0, len(shards)*r.vnodesPerShard)
	for _, shard := range shards {
		if _, dup := r.shards[shard.ID]; dup {
			continue
		}
		r.shards[shard.ID] = shard
		r.vnodes = append(r.vnodes, r.vnodesFor(shard.ID)...)
	}
	r.sortVNodes()
}

// AddShard adds a shard to the ring. Adding a known ID is a no-op.
func (r *Ring) AddShard(shard Shard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shards[shard.ID]; exists {
		return
	}
	r.shards[shard.ID] = shard
	r.vnodes = append(r.vnodes, r.vnodesFor(shard.ID)...)
	r.sortVNodes()
}

// RemoveShard removes a shard and all of its virtual nodes.
func (r *Ring) RemoveShard(shardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shards[shardID]; !exists {
		return
	}
	delete(r.shards, shardID)

	kept := r.vnodes[:0]
	for _, v := range r.vnodes {
		if v.shardID != shardID {
			kept = append(kept, v)
		}
	}
	r.vnodes = kept
}

// Locate returns the shard responsible for name, or false if the ring is
// empty.
func (r *Ring) Locate(name string) (Shard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 {
		return Shard{}, false
	}

	h := hashString(name)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= h
	})
	// Wrap around past the largest hash.
	if idx >= len(r.vnodes) {
		idx = 0
	}

	shard, exists := r.shards[r.vnodes[idx].shardID]
	return shard, exists
}

// Shards returns all shards sorted by ID.
func (r *Ring) Shards() []Shard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shards := make([]Shard, 0, len(r.shards))
	for _, shard := range r.shards {
		shards = append(shards, shard)
	}
	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ID < shards[j].ID
	})
	return shards
}

// Len returns the number of shards.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shards)
}

func (r *Ring) vnodesFor(shardID string) []vnode {
	out := make([]vnode, r.vnodesPerShard)
	for i := range out {
		out[i] = vnode{
			hash:    hashString(shardID + "#" + strconv.Itoa(i)),
			shardID: shardID,
		}
	}
	return out
}

// sortVNodes orders vnodes by hash, breaking ties by shard ID so that
// collisions resolve the same way on every process.
func (r *Ring) sortVNodes() {
	sort.Slice(r.vnodes, func(i, j int) bool {
		if r.vnodes[i].hash != r.vnodes[j].hash {
			return r.vnodes[i].hash < r.vnodes[j].hash
		}
		return r.vnodes[i].shardID < r.vnodes[j].shardID
	})
}

// hashString computes a 32-bit FNV-1a hash of the string.
func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
