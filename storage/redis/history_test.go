package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/poiesic/newsrag/core"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestHistory_RoundTrip(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	h, err := NewHistory(addr, "", 0, WithTTL(time.Minute))
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Ping(ctx))

	user := core.Message{SessionID: "s1", Role: core.RoleUser, Content: "What happened?", Timestamp: time.Now().UTC().Truncate(time.Millisecond)}
	assistant := core.Message{
		SessionID: "s1",
		Role:      core.RoleAssistant,
		Content:   "Markets rallied.",
		Timestamp: user.Timestamp.Add(time.Second),
		Sources:   []core.SourceRef{{ArticleID: core.IDFromContent("A1"), URL: "https://news.example/a1", Title: "Markets"}},
	}
	require.NoError(t, h.Append(ctx, "s1", user))
	require.NoError(t, h.Append(ctx, "s1", assistant))

	msgs, err := h.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, user.Content, msgs[0].Content)
	assert.Equal(t, assistant.Sources, msgs[1].Sources)
	assert.True(t, assistant.Timestamp.Equal(msgs[1].Timestamp))

	ttl, err := h.client.TTL(ctx, historyKey("s1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, h.Clear(ctx, "s1"))
	msgs, err = h.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHistory_CorruptEntry(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	h, err := NewHistoryWithClient(client)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, client.RPush(ctx, historyKey("bad"), "{not json").Err())
	_, err = h.List(ctx, "bad")
	assert.Error(t, err)
}

func TestHistory_Unreachable(t *testing.T) {
	h, err := NewHistory("127.0.0.1:1", "", 0)
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, h.Ping(ctx))
}

func TestWithTTL_Invalid(t *testing.T) {
	_, err := NewHistory("127.0.0.1:6379", "", 0, WithTTL(0))
	assert.Error(t, err)
}
