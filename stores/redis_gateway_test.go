package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisGateway(t *testing.T) (*RedisGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	db := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := NewRedisGateway(db, "Pins")
	g.Now = fixedClock(time.Date(2025, time.November, 1, 8, 0, 0, 0, time.UTC))
	t.Cleanup(func() { g.Close() })
	return g, mr
}

func TestRedisGateway_InsertListDelete(t *testing.T) {
	g, mr := newTestRedisGateway(t)
	ctx := context.Background()

	desc := "am Zaun"
	first, err := g.Insert(ctx, Record{"title": "A", "description": desc, "latitude": 52.52, "longitude": 13.405, "expires_at": "2025-12-01"})
	require.Nil(t, err)
	second, err := g.Insert(ctx, Record{"title": "B", "latitude": 1.0, "longitude": 2.0})
	require.Nil(t, err)

	assert.True(t, mr.Exists("Pins:row:"+first.ID()), "row hash should exist")
	members, merr := mr.ZMembers("Pins:index")
	require.NoError(t, merr)
	assert.Len(t, members, 2)

	rs, err := g.List(ctx)
	require.Nil(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, second.ID(), rs[0].ID(), "newest row should come first")
	assert.Nil(t, rs[0]["description"], "absent description should read back as nil")
	assert.Equal(t, desc, rs[1]["description"])
	assert.Equal(t, "52.52", rs[1]["latitude"], "coordinates are stored as strings")
	assert.Equal(t, "2025-11-01T08:00:01Z", rs[1]["created_at"])

	deleted, err := g.Delete(ctx, first.ID())
	require.Nil(t, err)
	assert.True(t, deleted)
	deleted, err = g.Delete(ctx, "nope")
	require.Nil(t, err)
	assert.False(t, deleted)
	rs, _ = g.List(ctx)
	assert.Len(t, rs, 1)
}

func TestRedisGateway_ListSkipsDanglingIndex(t *testing.T) {
	g, mr := newTestRedisGateway(t)
	ctx := context.Background()
	row, err := g.Insert(ctx, Record{"title": "A", "latitude": 1.0, "longitude": 2.0})
	require.Nil(t, err)
	mr.Del("Pins:row:" + row.ID())

	rs, err := g.List(ctx)
	require.Nil(t, err)
	assert.Empty(t, rs)
}

func TestRedisGateway_Subscribe(t *testing.T) {
	g, _ := newTestRedisGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := g.Subscribe(ctx)
	require.Nil(t, err)

	row, err := g.Insert(ctx, Record{"title": "A", "latitude": 1.0, "longitude": 2.0})
	require.Nil(t, err)
	c := recvChange(t, sub.Changes())
	assert.Equal(t, ChangeInsert, c.Type)
	assert.Equal(t, row.ID(), c.New.ID())

	_, err = g.Delete(ctx, row.ID())
	require.Nil(t, err)
	c = recvChange(t, sub.Changes())
	assert.Equal(t, ChangeDelete, c.Type)
	assert.Equal(t, row.ID(), c.Old.ID())

	assert.Nil(t, sub.Close())
	select {
	case _, ok := <-sub.Changes():
		assert.False(t, ok, "channel should be closed after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestRedisGateway_Hash(t *testing.T) {
	h := toHash(Record{"title": "A", "description": nil, "latitude": 52.5, "longitude": -0.125})
	assert.Equal(t, map[string]interface{}{"title": "A", "latitude": "52.5", "longitude": "-0.125"}, h)

	r := fromHash(map[string]string{"title": "A"})
	v, ok := r["description"]
	assert.True(t, ok)
	assert.Nil(t, v)
}
