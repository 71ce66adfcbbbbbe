package comps

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudcurio/arbfinder/internal/titles"
)

func TestTokenSetRatio(t *testing.T) {
	c := titles.NewCanonicalizer(nil)

	t.Run("identical", func(t *testing.T) {
		assert.Equal(t, 100, TokenSetRatio("rtx 3060", "rtx 3060"))
	})

	t.Run("near-duplicate titles meet the threshold", func(t *testing.T) {
		a := c.Canonicalize("RTX 3060 Ti 8GB")
		b := c.Canonicalize("RTX 3060ti 8gb GPU")
		assert.GreaterOrEqual(t, TokenSetRatio(a, b), DefaultSimThreshold)
	})

	t.Run("different models stay apart", func(t *testing.T) {
		a := c.Canonicalize("RTX 3060")
		b := c.Canonicalize("RTX 3070")
		assert.Less(t, TokenSetRatio(a, b), DefaultSimThreshold)
	})

	t.Run("numeric variants stay apart despite shared descriptors", func(t *testing.T) {
		pairs := [][2]string{
			{"RTX 3060 Ti 8GB", "RTX 3070 Ti 8GB"},
			{"Sony WH-1000XM4", "Sony WH-1000XM5"},
			{"Boss DS-1 Distortion", "Boss DS-2 Turbo Distortion"},
		}
		for _, p := range pairs {
			a, b := c.Canonicalize(p[0]), c.Canonicalize(p[1])
			assert.Less(t, TokenSetRatio(a, b), DefaultSimThreshold, "%q vs %q", a, b)
		}
	})

	t.Run("token order is irrelevant", func(t *testing.T) {
		assert.Equal(t, 100, TokenSetRatio("8 gb rtx 3060 ti", "rtx 3060 ti 8 gb"))
	})

	t.Run("subset scores 100", func(t *testing.T) {
		assert.Equal(t, 100, TokenSetRatio("rtx 3060", "rtx 3060 ti 8 gb gaming"))
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := "boss ds 1 distortion", "boss ds 2 turbo distortion"
		assert.Equal(t, TokenSetRatio(a, b), TokenSetRatio(b, a))
	})

	t.Run("empty keys score zero", func(t *testing.T) {
		assert.Equal(t, 0, TokenSetRatio("", "rtx 3060"))
		assert.Equal(t, 0, TokenSetRatio("rtx 3060", ""))
	})

	t.Run("disjoint keys score low", func(t *testing.T) {
		assert.Less(t, TokenSetRatio("nintendo switch oled", "dewalt drill press"), 50)
	})
}
