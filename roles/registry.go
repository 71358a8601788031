package roles

import (
	"errors"
	"sort"
	"sync"
)

// Registry assigns stable bit positions to role names for the bitmask
// encoding. Registration happens during startup; Freeze locks the mapping
// before the registry is shared with request paths.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty role registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// Register assigns the next free bit to the named role and returns it.
// Capacity is [MaxBits] roles.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("role registry frozen")
	}
	if name == "" {
		return -1, errors.New("role name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("role already registered: " + name)
	}

	next := len(r.nameToBit)
	if next >= MaxBits {
		return -1, errors.New("role limit exceeded")
	}

	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Freeze locks the registry against further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Bit returns the bit position for a role name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the role name at a bit position.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Count returns the number of registered roles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// BitSet builds a bitmask Set from role names, failing on any name that is
// not registered.
func (r *Registry) BitSet(roleNames ...string) (Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var mask uint64
	for _, n := range roleNames {
		bit, ok := r.nameToBit[n]
		if !ok {
			return Set{}, errors.New("role not registered: " + n)
		}
		mask |= 1 << uint(bit)
	}
	return Set{enc: EncodingBits, bits: mask}, nil
}

// NamesOf decodes a bitmask Set into sorted role names. Unregistered bits
// are skipped; a names-encoded set is returned as-is.
func (r *Registry) NamesOf(s Set) ([]string, error) {
	if s.enc == EncodingNames {
		return s.NameList()
	}
	if s.enc != EncodingBits {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for bit, name := range r.bitToName {
		if s.bits&(1<<uint(bit)) != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
