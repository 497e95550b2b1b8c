package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"never_use":     ModeNeverUseSlow,
		"no_mlock":      ModeNoMlock,
		"warn":          ModeWarn,
		"print_warning": ModeWarn,
		"always_use":    ModeAlwaysUseSlow,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.NotEqual(t, "unknown", got.String())
	}

	_, err := ParseMode("hugepages")
	assert.Error(t, err)
}

func TestAllocSmallPages(t *testing.T) {
	a := New(ModeAlwaysUseSlow, zap.NewNop())
	require.NoError(t, a.Init(2*1024*1024))

	r, err := a.AllocSlow(2 * 1024 * 1024)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Len(t, r.Data, 2*1024*1024)
	assert.False(t, r.Huge)
	assert.False(t, r.Locked)

	// The region is writable end to end.
	r.Data[0] = 0xFF
	r.Data[len(r.Data)-1] = 0xFF

	assert.NoError(t, r.Free())
	assert.NoError(t, r.Free(), "double free is a no-op")
	assert.Nil(t, r.Data)
}

func TestWarnModeDegrades(t *testing.T) {
	// Huge pages are rarely provisioned in test environments; warn mode
	// must produce a usable region either way.
	a := New(ModeWarn, zap.NewNop())
	require.NoError(t, a.Init(2*1024*1024))

	r, err := a.AllocSlow(2 * 1024 * 1024)
	require.NoError(t, err)
	assert.Len(t, r.Data, 2*1024*1024)
	assert.NoError(t, r.Free())
}
