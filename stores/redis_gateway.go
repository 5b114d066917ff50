package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/segmentio/ksuid"
	"wuyrush.io/plakat/common/logging"
	pe "wuyrush.io/plakat/errors"
)

const (
	// template of the redis key holding one row as a hash
	keyTmplRow = `%s:row:%s`
	// template of the redis key of the sorted set whose score is row creation time
	keyTmplIndex = `%s:index`
	// template of the pub/sub channel change events of the table are published to
	keyTmplChanges = `%s:changes`
)

// RedisGateway is a Gateway driven by Redis. Each row lives in a hash, rows are ordered through a sorted
// set scored by creation time and changes are announced over Redis pub/sub.
type RedisGateway struct {
	DB    *redis.Client
	Table string
	Now   func() time.Time
}

func NewRedisGateway(db *redis.Client, table string) *RedisGateway {
	return &RedisGateway{DB: db, Table: table, Now: time.Now}
}

func (g *RedisGateway) rowKey(id string) string {
	return fmt.Sprintf(keyTmplRow, g.Table, id)
}

func (g *RedisGateway) indexKey() string {
	return fmt.Sprintf(keyTmplIndex, g.Table)
}

func (g *RedisGateway) changesChannel() string {
	return fmt.Sprintf(keyTmplChanges, g.Table)
}

func (g *RedisGateway) List(ctx context.Context) ([]Record, *pe.PinErr) {
	const errMsg = "error listing pins"
	clog := logging.WithFuncName()
	ids, err := g.DB.ZRevRange(g.indexKey(), 0, -1).Result()
	if err != nil {
		clog.WithError(err).Error("error calling redis to get row ids")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	cmds := make([]*redis.StringStringMapCmd, len(ids))
	if _, err := g.DB.Pipelined(func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(g.rowKey(id))
		}
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling redis to get rows")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	rs := make([]Record, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		// the index may briefly outlive a deleted row
		if len(m) == 0 {
			clog.WithField("pinID", ids[i]).Debug("skipping dangling index entry")
			continue
		}
		rs = append(rs, fromHash(m))
	}
	return rs, nil
}

func (g *RedisGateway) Insert(ctx context.Context, r Record) (Record, *pe.PinErr) {
	const errMsg = "error saving pin"
	id, err := ksuid.NewRandom()
	if err != nil {
		return nil, pe.ErrServiceFailure("error generating pin id").WithCause(err)
	}
	createdAt := g.Now()
	row := stamp(r, id.String(), createdAt)
	clog := logging.WithFuncName().WithField("pinID", row.ID())
	// row and index are written atomically so List never sees half of an insert
	if _, err := g.DB.TxPipelined(func(p redis.Pipeliner) error {
		p.HMSet(g.rowKey(row.ID()), toHash(row))
		p.ZAdd(g.indexKey(), redis.Z{Score: float64(createdAt.UnixNano()), Member: row.ID()})
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling redis to save row")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	g.announce(Change{Type: ChangeInsert, New: row})
	return row.copy(), nil
}

func (g *RedisGateway) Delete(ctx context.Context, id string) (bool, *pe.PinErr) {
	const errMsg = "error deleting pin"
	clog := logging.WithFuncName().WithField("pinID", id)
	var del *redis.IntCmd
	// redis ignores DEL and ZREM of non-existent keys and members
	if _, err := g.DB.TxPipelined(func(p redis.Pipeliner) error {
		del = p.Del(g.rowKey(id))
		p.ZRem(g.indexKey(), id)
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling redis to delete row")
		return false, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	if del.Val() == 0 {
		return false, nil
	}
	g.announce(Change{Type: ChangeDelete, Old: Record{"id": id}})
	return true, nil
}

// announce publishes c in best-effort manner: the write already happened, so a failed publish only
// delays other clients until their next full load
func (g *RedisGateway) announce(c Change) {
	clog := logging.WithFuncName().WithField("changeType", c.Type)
	b, err := json.Marshal(c)
	if err != nil {
		clog.WithError(err).Error("error marshalling change event")
		return
	}
	if err := g.DB.Publish(g.changesChannel(), string(b)).Err(); err != nil {
		clog.WithError(err).Error("error publishing change event to redis")
	}
}

func (g *RedisGateway) Subscribe(ctx context.Context) (Subscription, *pe.PinErr) {
	clog := logging.WithFuncName()
	ps := g.DB.Subscribe(g.changesChannel())
	// wait for the subscription confirmation so no change published after Subscribe returns is missed
	if _, err := ps.Receive(); err != nil {
		ps.Close()
		clog.WithError(err).Error("error subscribing to redis change channel")
		return nil, pe.ErrDependencyFailure("error subscribing to pin changes").WithCause(err)
	}
	s := &redisSub{ps: ps, ch: make(chan Change), done: make(chan struct{})}
	go s.pump(ctx)
	return s, nil
}

func (g *RedisGateway) Close() *pe.PinErr {
	if err := g.DB.Close(); err != nil {
		return pe.ErrServiceFailure("failed close Redis client").WithCause(err)
	}
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Change
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(ctx context.Context) {
	clog := logging.WithFuncName()
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				clog.WithError(err).Warn("ignoring malformed change event")
				continue
			}
			select {
			case s.ch <- c:
			case <-s.done:
				return
			case <-ctx.Done():
				s.Close()
				return
			}
		}
	}
}

func (s *redisSub) Changes() <-chan Change {
	return s.ch
}

func (s *redisSub) Close() *pe.PinErr {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	if err != nil {
		return pe.ErrServiceFailure("error closing pin change subscription").WithCause(err)
	}
	return nil
}

// hacks redis keys so that the row can be stored in a flat map; a nil description is stored by leaving
// the field out
func toHash(r Record) map[string]interface{} {
	m := make(map[string]interface{}, len(r))
	for k, v := range r {
		switch x := v.(type) {
		case nil:
			continue
		case float64:
			m[k] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			m[k] = fmt.Sprint(x)
		}
	}
	return m
}

func fromHash(m map[string]string) Record {
	r := make(Record, len(m)+1)
	for k, v := range m {
		r[k] = v
	}
	if _, ok := r["description"]; !ok {
		r["description"] = nil
	}
	return r
}
