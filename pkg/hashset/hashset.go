package hashset

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"

	"github.com/zeebo/blake3"
)

// digest is a 128-bit accumulator split into two 64-bit words
type digest struct {
	hi, lo uint64
}

func (d digest) add(o digest) digest {
	lo, carry := bits.Add64(d.lo, o.lo, 0)
	hi, _ := bits.Add64(d.hi, o.hi, carry)
	return digest{hi: hi, lo: lo}
}

func (d digest) sub(o digest) digest {
	lo, borrow := bits.Sub64(d.lo, o.lo, 0)
	hi, _ := bits.Sub64(d.hi, o.hi, borrow)
	return digest{hi: hi, lo: lo}
}

func (d digest) String() string {
	return fmt.Sprintf("%016x%016x", d.hi, d.lo)
}

// elementDigest hashes a single identifier into the 128-bit group.
func elementDigest(id string) digest {
	sum := blake3.Sum256([]byte(id))
	return digest{
		lo: binary.LittleEndian.Uint64(sum[0:8]),
		hi: binary.LittleEndian.Uint64(sum[8:16]),
	}
}

// EmptyDigest is the digest of a set with no members
var EmptyDigest = digest{}.String()

// Set is an order-independent hashed set of opaque identifiers.
//
// The digest is the sum modulo 2^128 of the per-member BLAKE3 prefixes,
// so it changes in O(1) on Add and Remove and depends only on
// membership. A Set is not safe for concurrent use.
type Set struct {
	members map[string]struct{}
	sum     digest
}

// New creates a Set holding the given identifiers
func New(ids ...string) *Set {
	s := &Set{members: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was not already a member
func (s *Set) Add(id string) bool {
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = struct{}{}
	s.sum = s.sum.add(elementDigest(id))
	return true
}

// Remove deletes id and reports whether it was a member
func (s *Set) Remove(id string) bool {
	if _, ok := s.members[id]; !ok {
		return false
	}
	delete(s.members, id)
	s.sum = s.sum.sub(elementDigest(id))
	return true
}

// Has reports whether id is a member
func (s *Set) Has(id string) bool {
	_, ok := s.members[id]
	return ok
}

// Size returns the number of members
func (s *Set) Size() int {
	return len(s.members)
}

// Digest returns the set digest as 32 lowercase hex characters
func (s *Set) Digest() string {
	return s.sum.String()
}

// Members returns the members in sorted order
func (s *Set) Members() []string {
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Digest computes the digest of ids without building a Set.
// Duplicate identifiers are counted once.
func Digest(ids ...string) string {
	return New(ids...).Digest()
}
