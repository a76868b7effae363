package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemProber(t *testing.T) {
	t.Run("reports at least one core", func(t *testing.T) {
		b := SystemProber{}.Probe(0, 0)
		assert.GreaterOrEqual(t, b.AvailableCores, 1)
		assert.GreaterOrEqual(t, b.AvailableRAMBytes, int64(0))
	})

	t.Run("oversized reservation clamps instead of failing", func(t *testing.T) {
		b := SystemProber{}.Probe(1<<20, int64(1)<<60)
		assert.Equal(t, 1, b.AvailableCores)
		assert.Equal(t, int64(0), b.AvailableRAMBytes)
	})

	t.Run("negative reservation treated as zero", func(t *testing.T) {
		base := SystemProber{}.Probe(0, 0)
		b := SystemProber{}.Probe(-3, -1024)
		assert.Equal(t, base.AvailableCores, b.AvailableCores)
	})

	t.Run("reservation reduces the budget", func(t *testing.T) {
		base := SystemProber{}.Probe(0, 0)
		if base.AvailableCores < 2 {
			t.Skip("single-core host")
		}
		b := SystemProber{}.Probe(1, 0)
		assert.Equal(t, base.AvailableCores-1, b.AvailableCores)
	})
}

func TestFixedProber(t *testing.T) {
	f := FixedProber{Budget: Budget{AvailableCores: 8, AvailableRAMBytes: 16 << 30}}

	b := f.Probe(2, 4<<30)
	assert.Equal(t, 6, b.AvailableCores)
	assert.Equal(t, int64(12)<<30, b.AvailableRAMBytes)

	b = f.Probe(100, 1<<40)
	assert.Equal(t, 1, b.AvailableCores)
	assert.Equal(t, int64(0), b.AvailableRAMBytes)
}
