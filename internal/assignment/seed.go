package assignment

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/lewtec/marcador/internal/domain"
	"github.com/zeebo/xxh3"
)

// SeedVersion selects the hash that turns (dataset, worker) into a seed.
// Changing the version changes every worker's order, so it is part of the
// stored configuration and never switched silently.
type SeedVersion int

const (
	// SeedV1 takes the first 8 bytes, big endian, of SHA-256("<dataset>:<worker>")
	SeedV1 SeedVersion = 1
	// SeedV2 takes XXH3-64("<dataset>:<worker>")
	SeedV2 SeedVersion = 2

	DefaultSeedVersion = SeedV1
)

// pcgIncrement derives the second PCG word from the seed
const pcgIncrement = 0x9e3779b97f4a7c15

func (v SeedVersion) Valid() bool {
	return v == SeedV1 || v == SeedV2
}

func seedSource(datasetID int64, workerID string) []byte {
	return []byte(strconv.FormatInt(datasetID, 10) + ":" + workerID)
}

// Seed computes the shuffle seed of a (dataset, worker) pair
func Seed(version SeedVersion, datasetID int64, workerID string) (uint64, error) {
	src := seedSource(datasetID, workerID)
	switch version {
	case SeedV1:
		sum := sha256.Sum256(src)
		return binary.BigEndian.Uint64(sum[:8]), nil
	case SeedV2:
		return xxh3.Hash(src), nil
	default:
		return 0, domain.InvalidArgument("unknown seed version %d", version)
	}
}

// Permute returns a shuffled copy of items. The shuffle is Fisher-Yates from
// the last index down, drawing from PCG-DXSM seeded with (seed, seed^pcgIncrement)
// and bounding draws by rejection sampling, so the order only depends on seed
// and items.
func Permute(items []int64, seed uint64) []int64 {
	out := slices.Clone(items)
	src := rand.NewPCG(seed, seed^pcgIncrement)
	for i := len(out) - 1; i > 0; i-- {
		j := bounded(src, uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// bounded draws uniformly from [0, n)
func bounded(src *rand.PCG, n uint64) uint64 {
	threshold := -n % n
	for {
		v := src.Uint64()
		if v >= threshold {
			return v % n
		}
	}
}

// dedupe drops repeated ids keeping the first occurrence
func dedupe(items []int64) []int64 {
	seen := make(map[int64]struct{}, len(items))
	out := make([]int64, 0, len(items))
	for _, id := range items {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (v SeedVersion) String() string {
	return fmt.Sprintf("v%d", int(v))
}
