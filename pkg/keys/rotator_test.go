package keys

import (
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trionica/catalog-enricher/pkg/config"
	"github.com/trionica/catalog-enricher/pkg/metrics"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRotator_NoKeys(t *testing.T) {
	cfg := &config.PrimarySearchConfig{}
	r := NewRotator(cfg, nil, testLogger())

	key, ok := r.Current()
	assert.False(t, ok)
	assert.Empty(t, key)
	assert.False(t, r.Rotate("rate limited"))
	assert.Equal(t, 0, r.Index())
}

func TestRotator_SingleKeyCannotRotate(t *testing.T) {
	cfg := &config.PrimarySearchConfig{APIKeys: []string{"key-one-0001"}}
	r := NewRotator(cfg, nil, testLogger())

	assert.False(t, r.Rotate("rate limited"))
	key, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "key-one-0001", key)
}

func TestRotator_CyclicForAnyK(t *testing.T) {
	for k := 2; k <= 6; k++ {
		keys := make([]string, k)
		for i := range keys {
			keys[i] = "key-" + string(rune('a'+i)) + "-000000"
		}
		for start := 0; start < k; start++ {
			cfg := &config.PrimarySearchConfig{APIKeys: keys, CurrentKeyIndex: start}
			r := NewRotator(cfg, nil, testLogger())
			for i := 0; i < k; i++ {
				require.True(t, r.Rotate("test"))
			}
			assert.Equal(t, start, r.Index(), "k=%d start=%d", k, start)
		}
	}
}

func TestRotator_ClampsWhenKeysShrink(t *testing.T) {
	cfg := &config.PrimarySearchConfig{APIKeys: []string{"a-00000000", "b-00000000", "c-00000000"}, CurrentKeyIndex: 2}
	r := NewRotator(cfg, nil, testLogger())
	assert.Equal(t, 2, r.Index())

	cfg.APIKeys = cfg.APIKeys[:1]
	key, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "a-00000000", key)
	assert.Equal(t, 0, cfg.CurrentKeyIndex)
}

func TestRotator_ResetAndPersistHook(t *testing.T) {
	var persisted []int
	cfg := &config.PrimarySearchConfig{APIKeys: []string{"a-00000000", "b-00000000"}}
	r := NewRotator(cfg, func(i int) { persisted = append(persisted, i) }, testLogger())

	before := testutil.ToFloat64(metrics.KeyRotations)
	require.True(t, r.Rotate("quota"))
	assert.Equal(t, 1, cfg.CurrentKeyIndex)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.KeyRotations))

	r.Reset()
	assert.Equal(t, 0, r.Index())
	assert.Equal(t, []int{1, 0}, persisted)
}

func TestRotator_AdvanceIsCompareAndRotate(t *testing.T) {
	cfg := &config.PrimarySearchConfig{APIKeys: []string{"a-00000000", "b-00000000", "c-00000000"}}
	r := NewRotator(cfg, nil, testLogger())

	used, _ := r.Current()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, r.Advance("rate limited", used))
		}()
	}
	wg.Wait()

	// Every caller saw the same stale key, so the cursor moved exactly once
	assert.Equal(t, 1, r.Index())
}
