package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// RandomSource produces uniformly distributed synthetic readings in
// [Min, Max] degrees Celsius, rounded to hundredths.
type RandomSource struct {
	Min, Max float64
}

// NewRandomSource creates a RandomSource. Bounds are swapped if reversed.
func NewRandomSource(lo, hi float64) *RandomSource {
	if lo > hi {
		lo, hi = hi, lo
	}
	return &RandomSource{Min: lo, Max: hi}
}

func (s *RandomSource) Read(ctx context.Context) (Temperature, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c := s.Min + rand.Float64()*(s.Max-s.Min)
	t, err := FromCelsius(math.Round(c*100) / 100)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return t, nil
}
