// Package redisstore хранит таблицы в Redis: таблица - hash, поле hash'а -
// ключ строки, значение - строка в CBOR.
package redisstore

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"realmdb/internal/store"
)

var (
	// Error - ошибка Redis.
	Error = errs.Class("redis")

	mon = monkit.Package()
)

const defaultPrefix = "realmdb"

var bumpSeq = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur < tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// Client - store.Store поверх Redis.
type Client struct {
	db     *redis.Client
	prefix string
	enc    cbor.EncMode

	txMu sync.Mutex
}

var _ store.Store = (*Client)(nil)

// OpenClient подключается к Redis и проверяет соединение.
func OpenClient(ctx context.Context, address, password string, db int) (*Client, error) {
	enc, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
		prefix: defaultPrefix,
		enc:    enc,
	}

	if err := client.db.Ping(ctx).Err(); err != nil {
		_ = client.db.Close()
		return nil, Error.New("ping failed: %v", err)
	}
	return client, nil
}

// OpenClientFrom разбирает адрес вида redis://host:port?db=1&password=x&prefix=realm.
func OpenClientFrom(ctx context.Context, address string) (*Client, error) {
	redisurl, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if redisurl.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := redisurl.Query()
	db := 0
	if v := q.Get("db"); v != "" {
		db, err = strconv.Atoi(v)
		if err != nil {
			return nil, Error.New("bad db %q: %v", v, err)
		}
	}

	client, err := OpenClient(ctx, redisurl.Host, q.Get("password"), db)
	if err != nil {
		return nil, err
	}
	if p := q.Get("prefix"); p != "" {
		client.prefix = p
	}
	return client, nil
}

func (client *Client) rowsKey(t store.Table) string { return client.prefix + ":" + t.Name }

func (client *Client) seqKey(t store.Table) string { return client.prefix + ":" + t.Name + ":seq" }

func (client *Client) encode(row store.Row) ([]byte, error) {
	data, err := client.enc.Marshal(map[string]any(row))
	return data, Error.Wrap(err)
}

func decode(data []byte) (store.Row, error) {
	var row map[string]any
	if err := cbor.Unmarshal(data, &row); err != nil {
		return nil, Error.Wrap(err)
	}
	return store.NormalizeRow(row), nil
}

// Get возвращает строку по ключу.
func (client *Client) Get(ctx context.Context, t store.Table, key any) (_ store.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	data, err := client.db.HGet(ctx, client.rowsKey(t), store.KeyString(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound.New("%s[%v]", t.Name, key)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return decode(data)
}

// Select читает таблицу целиком и фильтрует на клиенте.
func (client *Client) Select(ctx context.Context, t store.Table, where store.Predicate) (_ []store.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := where.Validate(t); err != nil {
		return nil, err
	}
	all, err := client.db.HGetAll(ctx, client.rowsKey(t)).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var out []store.Row
	for _, data := range all {
		row, err := decode([]byte(data))
		if err != nil {
			return nil, err
		}
		if where.Match(row) {
			out = append(out, row)
		}
	}
	store.SortByKey(out, t.Key)
	return out, nil
}

// Count считает строки под предикатом; пустой предикат - HLEN.
func (client *Client) Count(ctx context.Context, t store.Table, where store.Predicate) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if len(where) == 0 {
		n, err := client.db.HLen(ctx, client.rowsKey(t)).Result()
		return n, Error.Wrap(err)
	}
	rows, err := client.Select(ctx, t, where)
	return int64(len(rows)), err
}

// Insert пишет строку через HSETNX, автоинкремент - INCR отдельного ключа.
func (client *Client) Insert(ctx context.Context, t store.Table, row store.Row) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)
	row = store.NormalizeRow(row)

	key := row[t.Key]
	if t.AutoIncrement {
		if store.IsZeroKey(key) {
			n, err := client.db.Incr(ctx, client.seqKey(t)).Result()
			if err != nil {
				return nil, Error.Wrap(err)
			}
			key = n
			row[t.Key] = n
		} else if n, ok := key.(int64); ok {
			if err := bumpSeq.Run(ctx, client.db, []string{client.seqKey(t)}, n).Err(); err != nil && !errors.Is(err, redis.Nil) {
				return nil, Error.Wrap(err)
			}
		}
	}
	if key == nil {
		return nil, store.Error.New("%s: key column %q is empty", t.Name, t.Key)
	}

	data, err := client.encode(row)
	if err != nil {
		return nil, err
	}
	ok, err := client.db.HSetNX(ctx, client.rowsKey(t), store.KeyString(key), data).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !ok {
		return nil, store.ErrDuplicate.New("%s[%v]", t.Name, key)
	}
	return key, nil
}

// Update сливает set в строку под WATCH; смена ключа переносит поле hash'а.
func (client *Client) Update(ctx context.Context, t store.Table, key any, set store.Row) (err error) {
	defer mon.Task()(&ctx)(&err)
	set = store.NormalizeRow(set)
	hash := client.rowsKey(t)
	ks := store.KeyString(key)

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, hash, ks).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound.New("%s[%v]", t.Name, key)
		}
		if err != nil {
			return Error.Wrap(err)
		}
		row, err := decode(data)
		if err != nil {
			return err
		}
		for k, v := range set {
			row[k] = v
		}
		nks := store.KeyString(row[t.Key])
		if nks != ks {
			exists, err := tx.HExists(ctx, hash, nks).Result()
			if err != nil {
				return Error.Wrap(err)
			}
			if exists {
				return store.ErrDuplicate.New("%s[%v]", t.Name, row[t.Key])
			}
		}
		next, err := client.encode(row)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if nks != ks {
				pipe.HDel(ctx, hash, ks)
			}
			pipe.HSet(ctx, hash, nks, next)
			return nil
		})
		return Error.Wrap(err)
	}
	return client.db.Watch(ctx, txf, hash)
}

// Delete удаляет поле hash'а.
func (client *Client) Delete(ctx context.Context, t store.Table, key any) (err error) {
	defer mon.Task()(&ctx)(&err)
	n, err := client.db.HDel(ctx, client.rowsKey(t), store.KeyString(key)).Result()
	if err != nil {
		return Error.Wrap(err)
	}
	if n == 0 {
		return store.ErrNotFound.New("%s[%v]", t.Name, key)
	}
	return nil
}

// WithTx - журнал отката; у Redis нет отката MULTI после частичного выполнения.
func (client *Client) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	client.txMu.Lock()
	defer client.txMu.Unlock()
	return store.RunJournaled(ctx, client, fn)
}

// FlushDB удаляет все ключи выбранной базы.
func (client *Client) FlushDB(ctx context.Context) error {
	return Error.Wrap(client.db.FlushDB(ctx).Err())
}

// Close закрывает соединение.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
