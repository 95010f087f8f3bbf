package imaging

import (
	"fmt"
	"image"
	"math"
)

// Scorer rates an accepted image from 0 to 100
type Scorer interface {
	Name() string
	Score(img image.Image, format string) int
}

// NewScorer returns the named scorer; "tiered" is the default
func NewScorer(name string) (Scorer, error) {
	switch name {
	case "", "tiered":
		return TieredScorer{}, nil
	case "variance":
		return VarianceScorer{}, nil
	}
	return nil, fmt.Errorf("unknown scorer %q", name)
}

// ResolutionScore tiers by megapixels: >=1 -> 40, >=0.5 -> 30, >=0.2 -> 20, else 10
func ResolutionScore(width, height int) int {
	mp := float64(width) * float64(height) / 1_000_000
	switch {
	case mp >= 1:
		return 40
	case mp >= 0.5:
		return 30
	case mp >= 0.2:
		return 20
	}
	return 10
}

// AspectScore favors near-square images: [0.7,1.5] -> 20, [0.5,2.0] -> 15, else 5
func AspectScore(width, height int) int {
	if width <= 0 || height <= 0 {
		return 5
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio >= 0.7 && ratio <= 1.5:
		return 20
	case ratio >= 0.5 && ratio <= 2.0:
		return 15
	}
	return 5
}

// FormatScore gives jpeg and png 10, anything else 5
func FormatScore(format string) int {
	if format == "jpeg" || format == "png" {
		return 10
	}
	return 5
}

// TieredScore is resolution + aspect + format, capped at 100
func TieredScore(width, height int, format string) int {
	return min(100, ResolutionScore(width, height)+AspectScore(width, height)+FormatScore(format))
}

// TieredScorer uses only dimensions and format, so it is deterministic
type TieredScorer struct{}

func (TieredScorer) Name() string { return "tiered" }

func (TieredScorer) Score(img image.Image, format string) int {
	b := img.Bounds()
	return TieredScore(b.Dx(), b.Dy(), format)
}

// VarianceScorer adds a detail component from luminance spread.
// Resolution (0-40) + format (0-10) + half the aspect score (0-10) + detail (0-40).
type VarianceScorer struct{}

const varianceGrid = 64

func (VarianceScorer) Name() string { return "variance" }

func (VarianceScorer) Score(img image.Image, format string) int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	base := ResolutionScore(w, h) + FormatScore(format) + AspectScore(w, h)/2
	detail := int(math.Min(40, LuminanceStdDev(img)*40/64))
	return min(100, base+detail)
}

// LuminanceStdDev samples up to a 64x64 grid and returns the standard
// deviation of luma on a 0-255 scale.
func LuminanceStdDev(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	stepX := max(1, w/varianceGrid)
	stepY := max(1, h/varianceGrid)

	var sum, sumSq float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit channels
			l := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
