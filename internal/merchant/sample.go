package merchant

import (
	"math/rand"
	"slices"

	"github.com/jensholdgaard/discord-merchant-bot/internal/store"
)

// WeightedSample selects up to k items from the pool without replacement.
// Each draw picks one remaining item with probability proportional to
// max(1, weight), so no item repeats within a rotation and disabled-weight
// items still have a nonzero chance. Given a fixed rng and input order the
// selection is reproducible.
func WeightedSample(rng *rand.Rand, items []store.Item, k int) []store.Item {
	pool := slices.Clone(items)
	selected := make([]store.Item, 0, min(k, len(pool)))

	for len(pool) > 0 && len(selected) < k {
		total := 0
		for _, it := range pool {
			total += effectiveWeight(it.Weight)
		}

		roll := rng.Intn(total)
		idx := 0
		for i, it := range pool {
			roll -= effectiveWeight(it.Weight)
			if roll < 0 {
				idx = i
				break
			}
		}

		selected = append(selected, pool[idx])
		pool = slices.Delete(pool, idx, idx+1)
	}
	return selected
}

// effectiveWeight floors weights at 1.
func effectiveWeight(w int) int {
	if w < 1 {
		return 1
	}
	return w
}
