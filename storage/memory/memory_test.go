package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role core.Role, content string) core.Message {
	return core.Message{SessionID: "s1", Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func TestHistory_AppendListClear(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()
	defer h.Close()

	empty, err := h.List(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, h.Append(ctx, "s1", msg(core.RoleUser, "hi")))
	require.NoError(t, h.Append(ctx, "s1", msg(core.RoleAssistant, "hello")))
	require.NoError(t, h.Append(ctx, "s2", msg(core.RoleUser, "other")))

	msgs, err := h.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)

	require.NoError(t, h.Clear(ctx, "s1"))
	msgs, err = h.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = h.List(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHistory_ListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()
	m := msg(core.RoleAssistant, "answer")
	m.Sources = []core.SourceRef{{ArticleID: 1, URL: "u", Title: "t"}}
	require.NoError(t, h.Append(ctx, "s1", m))

	msgs, err := h.List(ctx, "s1")
	require.NoError(t, err)
	msgs[0].Sources[0].Title = "changed"

	again, err := h.List(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t", again[0].Sources[0].Title)
}

func TestHistory_Closed(t *testing.T) {
	h := NewHistory()
	require.NoError(t, h.Close())
	err := h.Append(context.Background(), "s1", msg(core.RoleUser, "hi"))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestHistory_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Append(ctx, "s1", msg(core.RoleUser, "x")))
		}()
	}
	wg.Wait()
	msgs, err := h.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 50)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := NewCache()

	_, ok, err := c.Get(ctx, "h")
	require.NoError(t, err)
	assert.False(t, ok)

	v := []float32{1, 2}
	require.NoError(t, c.Put(ctx, "h", v))
	v[0] = 9

	got, ok, err := c.Get(ctx, "h")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Clear(ctx))
	n, _ = c.Len(ctx)
	assert.Zero(t, n)
}

func TestHistory_EmptySessionID(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()

	assert.ErrorIs(t, h.Append(ctx, "", core.Message{Role: core.RoleUser, Content: "x"}), storage.ErrInvalidQuery)
	_, err := h.List(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}
