// Package hashing maps field values onto the uniformly distributed 31-bit
// integers the HyperLogLog sketch consumes.
//
// It plays the role of the database's hll_hash function: every Hasher is
// deterministic, returns values in [0, 2^31) and is expected to spread its
// output uniformly over that range. The sketch itself never hashes.
package hashing

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	farm "github.com/dgryski/go-farm"
	"github.com/twmb/murmur3"
	"golang.org/x/crypto/blake2s"
)

// Bits is the width of every hash produced by this package.
const Bits = 31

const (
	mask31 = 1<<Bits - 1

	// mersenne31 is 2^31 - 1, the modulus of the blake2s reduction.
	mersenne31 = 1<<31 - 1

	// DefaultMurmurSeed avoids the seed-0 fixed point where empty input hashes to 0.
	DefaultMurmurSeed = 0x9747b28c
)

// Hasher turns encoded values into hashes.
type Hasher interface {
	// Name identifies the hasher in configuration and API requests.
	Name() string
	// Bits is the width of the hash domain.
	Bits() uint8
	// Sum hashes data.
	Sum(data []byte) uint64
}

// Murmur3 is 32-bit MurmurHash3 (x86) truncated to 31 bits.
type Murmur3 struct {
	Seed uint32
}

func (Murmur3) Name() string { return "murmur3" }
func (Murmur3) Bits() uint8  { return Bits }

func (h Murmur3) Sum(data []byte) uint64 {
	return uint64(murmur3.SeedSum32(h.Seed, data)) & mask31
}

// XXHash is 64-bit xxHash keeping the top 31 bits.
type XXHash struct{}

func (XXHash) Name() string { return "xxhash" }
func (XXHash) Bits() uint8  { return Bits }

func (XXHash) Sum(data []byte) uint64 {
	return xxhash.Sum64(data) >> (64 - Bits)
}

// Farm is the FarmHash 32-bit fingerprint truncated to 31 bits.
type Farm struct{}

func (Farm) Name() string { return "farm" }
func (Farm) Bits() uint8  { return Bits }

func (Farm) Sum(data []byte) uint64 {
	return uint64(farm.Fingerprint32(data)) & mask31
}

// Blake2s reads the BLAKE2s-256 digest as a big-endian integer and reduces it
// modulo 2^31 - 1. This is the user_hash column of the session dataset.
type Blake2s struct{}

func (Blake2s) Name() string { return "blake2s" }
func (Blake2s) Bits() uint8  { return Bits }

func (Blake2s) Sum(data []byte) uint64 {
	digest := blake2s.Sum256(data)

	var r uint64
	for i := 0; i < len(digest); i += 4 {
		r = (r<<32 | uint64(binary.BigEndian.Uint32(digest[i:]))) % mersenne31
	}
	return r
}

// Default returns the hasher backing hll_hash.
func Default() Hasher {
	return Murmur3{Seed: DefaultMurmurSeed}
}

var registry = map[string]func() Hasher{
	"murmur3": Default,
	"xxhash":  func() Hasher { return XXHash{} },
	"farm":    func() Hasher { return Farm{} },
	"blake2s": func() Hasher { return Blake2s{} },
}

// ByName looks up a hasher. An empty name selects Default.
func ByName(name string) (Hasher, error) {
	if name == "" {
		return Default(), nil
	}
	mk, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownHasher, name, Names())
	}
	return mk(), nil
}

// Names lists the registered hasher names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
