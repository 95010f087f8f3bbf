package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredScore(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		format string
		want   int
	}{
		{"1024x768 jpeg", 1024, 768, "jpeg", 60},
		{"1800x1800 png", 1800, 1800, "png", 70},
		{"500x500 png", 500, 500, "png", 50},
		{"tiny gif", 100, 100, "gif", 35},
		{"wide banner", 2000, 300, "jpeg", 45},
		{"tall 1:1.8", 500, 900, "webp", 40},
		{"zero height", 100, 0, "jpeg", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TieredScore(tt.w, tt.h, tt.format))
		})
	}
}

func TestTieredScore_MonotonicInResolution(t *testing.T) {
	for _, format := range []string{"jpeg", "png", "gif", "webp"} {
		for _, side := range []int{500, 800, 1000, 1200, 1800} {
			assert.GreaterOrEqual(t, TieredScore(1800, 1800, format), TieredScore(side, side, format))
		}
	}
	assert.GreaterOrEqual(t, TieredScore(1800, 1800, "jpeg"), TieredScore(500, 500, "jpeg"))
}

func TestResolutionScoreTiers(t *testing.T) {
	assert.Equal(t, 40, ResolutionScore(1000, 1000))
	assert.Equal(t, 30, ResolutionScore(1000, 500))
	assert.Equal(t, 20, ResolutionScore(500, 400))
	assert.Equal(t, 10, ResolutionScore(300, 300))
}

func TestNewScorer(t *testing.T) {
	s, err := NewScorer("")
	require.NoError(t, err)
	assert.Equal(t, "tiered", s.Name())

	s, err = NewScorer("variance")
	require.NoError(t, err)
	assert.Equal(t, "variance", s.Name())

	_, err = NewScorer("ml")
	assert.Error(t, err)
}

func TestVarianceScorer(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 1000, 1000))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	checker := image.NewGray(image.Rect(0, 0, 1000, 1000))
	for y := 0; y < 1000; y++ {
		for x := 0; x < 1000; x++ {
			if ((x/15)+(y/15))%2 == 0 {
				checker.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}

	assert.InDelta(t, 0, LuminanceStdDev(flat), 0.001)
	assert.Greater(t, LuminanceStdDev(checker), 100.0)

	s := VarianceScorer{}
	// 40 resolution + 10 format + 10 half-aspect
	assert.Equal(t, 60, s.Score(flat, "png"))
	assert.Equal(t, 100, s.Score(checker, "png"))
	assert.Equal(t, s.Score(checker, "png"), s.Score(checker, "png"), "deterministic for a fixed image")
}

func TestTieredScorer_UsesBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1024, 768))
	assert.Equal(t, 60, TieredScorer{}.Score(img, "jpeg"))
}
