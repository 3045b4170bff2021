package runtime

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const maxTimeoutSeconds = 60 * 60 * 24

var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
)

func errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

func deterministicRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// shuffleBatch forbids tasks from relying on any particular scheduling
// order within a run-queue batch: by default it reverses the batch with
// 50% probability each iteration; under deterministic scheduling it sorts
// by spawn order and applies a seeded shuffle instead, for reproducible
// test interleavings.
func shuffleBatch(batch []*Task, deterministic bool, r *rand.Rand) {
	if deterministic {
		sort.Slice(batch, func(i, j int) bool { return batch[i].counter < batch[j].counter })
		r.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
		return
	}
	if rand.Float64() < 0.5 {
		for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
			batch[i], batch[j] = batch[j], batch[i]
		}
	}
}
