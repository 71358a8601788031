package roles

import (
	"errors"
	"sort"
)

// Encoding discriminates the two role-set representations. A Set is never
// partially one and partially the other.
type Encoding uint8

const (
	// EncodingNames stores roles as a set of strings; membership is set
	// containment and order is irrelevant.
	EncodingNames Encoding = iota + 1
	// EncodingBits stores roles as a uint64 bitmask; each role occupies a
	// distinct power-of-two flag assigned by a [Registry]. The usable bound
	// is MaxBits roles per registry.
	EncodingBits
)

// MaxBits is the role capacity of a bitmask set. Union is bitwise OR and
// membership is bitwise AND, so the bound follows from the mask width.
const MaxBits = 64

// ErrEncodingMismatch is returned when a comparison is attempted between a
// names-encoded set and a bits-encoded argument (or vice versa). This is a
// programming error in the caller, not a request failure, and must never be
// normalized into a generic authentication error.
var ErrEncodingMismatch = errors.New("role encoding mismatch")

// ErrBitRange is returned for bit positions outside [0, MaxBits).
var ErrBitRange = errors.New("role bit out of range")

// Set is a tagged role collection. The zero Set has no encoding and grants
// nothing; it compares successfully against either encoding and always
// reports no membership.
type Set struct {
	enc   Encoding
	names map[string]struct{}
	bits  uint64
}

// Names builds a string-set encoded Set.
func Names(roleNames ...string) Set {
	m := make(map[string]struct{}, len(roleNames))
	for _, n := range roleNames {
		if n == "" {
			continue
		}
		m[n] = struct{}{}
	}
	return Set{enc: EncodingNames, names: m}
}

// Bits builds a bitmask encoded Set from a raw mask.
func Bits(mask uint64) Set {
	return Set{enc: EncodingBits, bits: mask}
}

// Bit builds a single-role bitmask Set for the given bit position.
func Bit(bit int) (Set, error) {
	if bit < 0 || bit >= MaxBits {
		return Set{}, ErrBitRange
	}
	return Set{enc: EncodingBits, bits: 1 << uint(bit)}, nil
}

// Encoding returns the set's discriminant, or zero for an empty Set.
func (s Set) Encoding() Encoding { return s.enc }

// IsZero reports whether the set carries no roles.
func (s Set) IsZero() bool {
	switch s.enc {
	case EncodingNames:
		return len(s.names) == 0
	case EncodingBits:
		return s.bits == 0
	default:
		return true
	}
}

// Mask returns the raw bitmask. It fails on a names-encoded set.
func (s Set) Mask() (uint64, error) {
	if s.enc != EncodingBits {
		return 0, ErrEncodingMismatch
	}
	return s.bits, nil
}

// NameList returns the sorted role names. It fails on a bits-encoded set;
// use [Registry.NamesOf] to decode a bitmask.
func (s Set) NameList() ([]string, error) {
	if s.enc != EncodingNames {
		return nil, ErrEncodingMismatch
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (s Set) compatible(other Set) error {
	if s.enc == 0 || other.enc == 0 {
		return nil
	}
	if s.enc != other.enc {
		return ErrEncodingMismatch
	}
	return nil
}

// HasAll reports whether every role in want is present in s.
func (s Set) HasAll(want Set) (bool, error) {
	if err := s.compatible(want); err != nil {
		return false, err
	}
	if want.IsZero() {
		return true, nil
	}
	if s.IsZero() {
		return false, nil
	}
	switch want.enc {
	case EncodingBits:
		return s.bits&want.bits == want.bits, nil
	default:
		for n := range want.names {
			if _, ok := s.names[n]; !ok {
				return false, nil
			}
		}
		return true, nil
	}
}

// HasAny reports whether at least one role in want is present in s.
func (s Set) HasAny(want Set) (bool, error) {
	if err := s.compatible(want); err != nil {
		return false, err
	}
	if want.IsZero() || s.IsZero() {
		return false, nil
	}
	switch want.enc {
	case EncodingBits:
		return s.bits&want.bits != 0, nil
	default:
		for n := range want.names {
			if _, ok := s.names[n]; ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// Has reports whether the single role in want is present in s. It is
// HasAll restricted to one role, kept for readability at call sites.
func (s Set) Has(want Set) (bool, error) {
	return s.HasAll(want)
}

// Union merges two sets of the same encoding.
func (s Set) Union(other Set) (Set, error) {
	if err := s.compatible(other); err != nil {
		return Set{}, err
	}
	if s.enc == 0 {
		return other, nil
	}
	if other.enc == 0 {
		return s, nil
	}
	switch s.enc {
	case EncodingBits:
		return Set{enc: EncodingBits, bits: s.bits | other.bits}, nil
	default:
		m := make(map[string]struct{}, len(s.names)+len(other.names))
		for n := range s.names {
			m[n] = struct{}{}
		}
		for n := range other.names {
			m[n] = struct{}{}
		}
		return Set{enc: EncodingNames, names: m}, nil
	}
}
