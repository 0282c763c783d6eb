package index

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/newsrag/core"
)

var errDown = errors.New("connection refused")

// flakyIndex is a Memory index that fails every call while down is set.
// When entered is set, the next Replace closes it and waits for release.
type flakyIndex struct {
	*Memory
	down    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (f *flakyIndex) Ping(context.Context) error {
	if f.down.Load() {
		return errDown
	}
	return nil
}

func (f *flakyIndex) Upsert(ctx context.Context, entries ...Entry) error {
	if f.down.Load() {
		return errDown
	}
	return f.Memory.Upsert(ctx, entries...)
}

func (f *flakyIndex) Replace(ctx context.Context, entries []Entry) error {
	if f.down.Load() {
		return errDown
	}
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
		<-f.release
	}
	return f.Memory.Replace(ctx, entries)
}

func (f *flakyIndex) Query(ctx context.Context, v []float32, k int) ([]Hit, error) {
	if f.down.Load() {
		return nil, errDown
	}
	return f.Memory.Query(ctx, v, k)
}

func TestFailover_ServesFromMirrorWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &flakyIndex{Memory: NewMemory()}
	f := NewFailover(primary, nil)

	require.NoError(t, f.Replace(ctx, []Entry{entry(1, t0, 0, []float32{1, 0})}))
	assert.False(t, f.Degraded())

	primary.down.Store(true)
	hits, err := f.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.True(t, f.Degraded())

	// writes while degraded land in the mirror only
	require.NoError(t, f.Upsert(ctx, entry(2, t0, 0, []float32{0, 1})))
	n, _ := f.Count(ctx)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, f.Probe(ctx), errDown)

	primary.down.Store(false)
	require.NoError(t, f.Probe(ctx))
	assert.False(t, f.Degraded())
	n, _ = primary.Memory.Count(ctx)
	assert.Equal(t, 2, n, "primary resynced from mirror")
}

func TestFailover_NilPrimary(t *testing.T) {
	ctx := context.Background()
	f := NewFailover(nil, nil)
	assert.True(t, f.Degraded())
	require.NoError(t, f.Upsert(ctx, entry(1, t0, 0, []float32{1})))
	hits, err := f.Query(ctx, []float32{1}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.NoError(t, f.Probe(ctx))
}

func TestFailover_CanceledQueryDoesNotDegrade(t *testing.T) {
	primary := &flakyIndex{Memory: NewMemory()}
	f := NewFailover(primary, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Query(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.Degraded())
}

func TestFailover_ReplaceDuringProbeReachesPrimary(t *testing.T) {
	ctx := context.Background()
	primary := &flakyIndex{Memory: NewMemory()}
	f := NewFailover(primary, nil)

	primary.down.Store(true)
	require.NoError(t, f.Replace(ctx, []Entry{entry(1, t0, 0, []float32{1, 0})}))
	require.True(t, f.Degraded())

	primary.down.Store(false)
	entered := make(chan struct{})
	primary.entered = entered
	primary.release = make(chan struct{})
	probed := make(chan error)
	go func() { probed <- f.Probe(ctx) }()
	<-entered

	replaced := make(chan error)
	go func() { replaced <- f.Replace(ctx, []Entry{entry(2, t0, 0, []float32{0, 1})}) }()
	time.Sleep(20 * time.Millisecond)
	close(primary.release)
	require.NoError(t, <-probed)
	require.NoError(t, <-replaced)

	assert.False(t, f.Degraded())
	onPrimary := primary.Memory.Entries()
	require.Len(t, onPrimary, 1, "recovered primary holds the newest set")
	assert.Equal(t, core.ID(2), onPrimary[0].ChunkID)
}
