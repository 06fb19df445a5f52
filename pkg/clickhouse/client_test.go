package clickhouse

import (
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertStatement(t *testing.T) {
	q, args, err := insertStatement("journal", []string{"batch_id", "asset"}, [][]any{{"b1", "sscrt"}, {"b2", "sscrt"}})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO journal (batch_id, asset) VALUES (?, ?),(?, ?)", q)
	assert.Equal(t, []any{"b1", "sscrt", "b2", "sscrt"}, args)

	_, _, err = insertStatement("journal", []string{"batch_id", "asset"}, [][]any{{"b1"}})
	assert.ErrorContains(t, err, "row has 1 values, want 2")
}

func TestChunkRows(t *testing.T) {
	rows := [][]any{{1}, {2}, {3}, {4}, {5}}
	chunks := chunkRows(rows, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)

	assert.Len(t, chunkRows(rows, 0), 1)
	assert.Empty(t, chunkRows(nil, 2))
}

func TestClientOptions(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithHTTP(true),
		WithAddr("ch", 0),
		WithDatabase("treasury"),
		WithCredentials("", "secret"),
		WithAsyncInsert(true, true),
		WithMaxExecutionTime(30 * time.Second),
	} {
		opt(&cfg)
	}
	assert.Equal(t, "ch:8123", cfg.Addr)

	o := cfg.options()
	assert.Equal(t, clickhouse.HTTP, o.Protocol)
	assert.Equal(t, clickhouse.Auth{Database: "treasury", Username: "default", Password: "secret"}, o.Auth)
	assert.Equal(t, 30, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
	assert.Equal(t, 1, o.Settings["wait_for_async_insert"])
}
