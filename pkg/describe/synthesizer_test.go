package describe

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trionica/catalog-enricher/pkg/config"
)

func newSynth(t *testing.T, mutate func(*config.DescriptionConfig)) *Synthesizer {
	t.Helper()
	cfg := config.DefaultFetchConfig().Description
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestSynthesize_ShortSnippetsUseFallback(t *testing.T) {
	snippets := []string{"too short", "tiny text", ""}

	s := newSynth(t, nil)
	text, ok := s.Synthesize(snippets, "Blue Widget")
	assert.True(t, ok)
	assert.Equal(t, "High-quality Blue Widget available for purchase.", text)

	none := newSynth(t, func(c *config.DescriptionConfig) { c.Fallback = config.FallbackNone })
	text, ok = none.Synthesize(snippets, "Blue Widget")
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestSynthesize_NoNameNoFallback(t *testing.T) {
	text, ok := newSynth(t, nil).Synthesize(nil, "  ")
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestSynthesize_PrefersLongestSnippet(t *testing.T) {
	long := "The TP-Link Archer AX55 is a dual-band Wi-Fi 6 router with OFDMA, four gigabit LAN ports and a USB 3.0 port for shared storage"
	text, ok := newSynth(t, nil).Synthesize([]string{
		"Compact router for small homes and offices",
		long,
	}, "Router")
	require.True(t, ok)
	assert.Equal(t, long+".", text)
}

func TestSynthesize_ConcatenatesWhenBestIsShort(t *testing.T) {
	text, ok := newSynth(t, nil).Synthesize([]string{
		"Dual-band Wi-Fi 6 router with OFDMA",
		"Four gigabit LAN ports and USB 3.0",
	}, "Router")
	require.True(t, ok)
	assert.Equal(t, "Dual-band Wi-Fi 6 router with OFDMA. Four gigabit LAN ports and USB 3.0.", text)
}

func TestSynthesize_StripsPrefixAndDedupes(t *testing.T) {
	text, ok := newSynth(t, nil).Synthesize([]string{
		"Buy Stainless steel kettle with auto shut-off",
		"stainless steel kettle with auto shut-off",
	}, "Kettle")
	require.True(t, ok)
	assert.Equal(t, "Stainless steel kettle with auto shut-off.", text)
}

func TestSynthesize_HTMLSnippets(t *testing.T) {
	text, ok := newSynth(t, nil).Synthesize([]string{
		"<b>TP-Link</b> Archer&nbsp;AX55 delivers<br>fast Wi-Fi 6 speeds ...",
	}, "Router")
	require.True(t, ok)
	assert.Equal(t, "TP-Link Archer AX55 delivers fast Wi-Fi 6 speeds.", text)
}

func TestClean_RemovesBoilerplate(t *testing.T) {
	s := newSynth(t, nil)
	tests := []struct {
		name     string
		in       string
		excluded []string
	}{
		{"calls to action", "Great blender for smoothies. Buy now! Add to cart today.", []string{"Buy now", "Add to cart"}},
		{"shipping", "Rugged phone case with free shipping and order today", []string{"free shipping", "order today"}},
		{"currency", "Premium headphones for only $49.99 or 45 EUR", []string{"$49.99", "45 EUR"}},
		{"urls", "Specs at https://example.com/item?id=1 and www.shop.example", []string{"https://", "www."}},
		{"click here", "Click here for the full desk lamp specifications", []string{"Click here"}},
		{"offer", "Limited time offer: ergonomic chair with lumbar support", []string{"Limited time offer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Clean(tt.in)
			for _, bad := range tt.excluded {
				assert.NotContains(t, strings.ToLower(out), strings.ToLower(bad))
			}
			assert.NotContains(t, out, "  ")
			assert.True(t, hasTerminal(out), "missing terminal punctuation: %q", out)
		})
	}
}

func TestClean_Punctuation(t *testing.T) {
	s := newSynth(t, nil)
	assert.Equal(t, "Amazing sound! Really?", s.Clean("Amazing   sound!!!   Really??"))
	assert.Equal(t, "Comfortable, light and quiet.", s.Clean("Comfortable ,, light and quiet"))
	assert.Equal(t, "Ends with an ellipsis…", s.Clean("Ends with an ellipsis…"))
	assert.Empty(t, s.Clean("Buy now! Free shipping!"))
}

func TestClean_UserDenyPatterns(t *testing.T) {
	s := newSynth(t, func(c *config.DescriptionConfig) { c.DenyPatterns = []string{`\bbest seller\b`} })
	assert.Equal(t, "ceramic mug holds 350 ml.", s.Clean("Best seller ceramic mug holds 350 ml"))
}

func TestNew_InvalidDenyPattern(t *testing.T) {
	cfg := config.DefaultFetchConfig().Description
	cfg.DenyPatterns = []string{"(unclosed"}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestClean_TruncatesOnWordBoundary(t *testing.T) {
	s := newSynth(t, nil)
	long := strings.Repeat("lorem ipsum dolor sit amet ", 40)

	out := s.Clean(long)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), DefaultMaxLength)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.True(t, utf8.ValidString(out))
	body := strings.TrimSuffix(out, "…")
	assert.True(t, strings.HasPrefix(long, body), "cut must fall on a word boundary")
	assert.Contains(t, []byte{'m', 'r', 't'}, body[len(body)-1])
}

func TestClean_MultibyteTruncation(t *testing.T) {
	s := newSynth(t, func(c *config.DescriptionConfig) { c.MaxLength = 40 })
	out := s.Clean(strings.Repeat("ñ", 60))
	assert.Equal(t, 40, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.True(t, utf8.ValidString(out))
}

func TestClean_LimitCountsCharactersNotBytes(t *testing.T) {
	s := newSynth(t, nil)
	// Under 500 characters but over 500 bytes
	text := strings.Repeat("Cámara térmica añadida ", 20) + "diseño."
	require.Greater(t, len(text), DefaultMaxLength)
	require.LessOrEqual(t, utf8.RuneCountInString(text), DefaultMaxLength)

	assert.Equal(t, strings.TrimSpace(collapse(text)), s.Clean(text))
}

func TestClean_Idempotent(t *testing.T) {
	s := newSynth(t, nil)
	inputs := []string{
		"Clean sentence about a product.",
		"Spacious backpack  with padded straps!! Free delivery",
		strings.Repeat("water resistant hiking boots ", 30),
		"Visit www.example.com for a stylish floor lamp",
		"buy buy now now great lamp",
		"Free free shipping shipping (click here) desk organiser",
	}
	for _, in := range inputs {
		once := s.Clean(in)
		assert.Equal(t, once, s.Clean(once), "input %q", in)
	}
}

func TestClean_DenyMatchesThatReform(t *testing.T) {
	s := newSynth(t, nil)
	assert.Equal(t, "great lamp.", s.Clean("buy buy now now great lamp"))
	assert.Equal(t, "desk organiser.", s.Clean("Free free shipping shipping (click here) desk organiser"))
}

func TestSynthesize_OutputAlwaysBounded(t *testing.T) {
	s := newSynth(t, nil)
	text, ok := s.Synthesize([]string{strings.Repeat("heavy duty cordless drill ", 50)}, "Drill")
	require.True(t, ok)
	assert.LessOrEqual(t, utf8.RuneCountInString(text), DefaultMaxLength)
	assert.True(t, hasTerminal(text))
}
