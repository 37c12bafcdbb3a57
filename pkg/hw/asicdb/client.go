// Package asicdb implements hw.API on top of SONiC's ASIC_DB (Redis DB 1).
// Every SAI object is one hash at "ASIC_STATE:<object type>:<id>", where id
// is an OID for OID-keyed types and the JSON entry key for entry types.
package asicdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/hwagent/pkg/hw"
)

const (
	// DefaultDB is the Redis database number of ASIC_DB.
	DefaultDB = 1

	keyPrefix  = "ASIC_STATE"
	oidCounter = "VIDCOUNTER"

	// nullField marks an object hash created without attributes (SONiC
	// convention, a Redis hash cannot be empty).
	nullField = "NULL"
)

// Client programs objects into ASIC_DB.
type Client struct {
	client    *redis.Client
	ctx       context.Context
	switchOID hw.ObjectID
}

// NewClient creates a client for the ASIC_DB at addr.
func NewClient(addr string, db int) *Client {
	return NewClientFromRedis(redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	}))
}

// NewClientFromRedis wraps an existing Redis client already pointed at
// ASIC_DB.
func NewClientFromRedis(client *redis.Client) *Client {
	return &Client{
		client: client,
		ctx:    context.Background(),
	}
}

// Connect pings Redis and discovers the switch OID.
func (c *Client) Connect() error {
	if err := c.client.Ping(c.ctx).Err(); err != nil {
		return fmt.Errorf("asic_db ping: %w", err)
	}

	keys, err := c.scanKeys(objectKey(hw.ObjectTypeSwitch, "*"))
	if err != nil {
		return fmt.Errorf("asic_db: scanning switch objects: %w", err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("asic_db: no %s object, is syncd running?", hw.ObjectTypeSwitch)
	}
	sort.Strings(keys)
	c.switchOID = idFromKey(hw.ObjectTypeSwitch, keys[0])
	return nil
}

// SwitchID returns the switch OID discovered by Connect.
func (c *Client) SwitchID() hw.ObjectID {
	return c.switchOID
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func objectKey(t hw.ObjectType, id string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, t, id)
}

func idFromKey(t hw.ObjectType, key string) hw.ObjectID {
	return hw.ObjectID(strings.TrimPrefix(key, fmt.Sprintf("%s:%s:", keyPrefix, t)))
}

// failure wraps a transport error as a generic SDK failure.
func failure(err error) error {
	return hw.NewStatusError(hw.StatusFailure, err)
}

func (c *Client) exists(key string) (bool, error) {
	n, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, failure(err)
	}
	return n > 0, nil
}

func (c *Client) Create(t hw.ObjectType, entry hw.ObjectID, attrs hw.Attributes) (hw.ObjectID, error) {
	id := entry
	if hw.IsEntryType(t) {
		if entry == "" {
			return "", hw.NewStatusError(hw.StatusInvalidParameter, fmt.Errorf("%s requires an entry key", t))
		}
	} else {
		if entry != "" {
			return "", hw.NewStatusError(hw.StatusInvalidParameter, fmt.Errorf("%s is OID-keyed", t))
		}
		n, err := c.client.Incr(c.ctx, oidCounter).Result()
		if err != nil {
			return "", failure(err)
		}
		id = hw.NewOID(t, uint64(n))
	}

	key := objectKey(t, string(id))
	found, err := c.exists(key)
	if err != nil {
		return "", err
	}
	if found {
		return "", hw.NewStatusError(hw.StatusItemAlreadyExists, nil)
	}

	pipe := c.client.TxPipeline()
	if len(attrs) == 0 {
		pipe.HSet(c.ctx, key, nullField, nullField)
	} else {
		args := make([]interface{}, 0, len(attrs)*2)
		for _, name := range attrs.Names() {
			args = append(args, name, attrs[name])
		}
		pipe.HSet(c.ctx, key, args...)
	}
	if _, err := pipe.Exec(c.ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", failure(fmt.Errorf("pipeline exec: %w", err))
	}
	return id, nil
}

func (c *Client) Remove(t hw.ObjectType, id hw.ObjectID) error {
	n, err := c.client.Del(c.ctx, objectKey(t, string(id))).Result()
	if err != nil {
		return failure(err)
	}
	if n == 0 {
		return hw.NewStatusError(hw.StatusItemNotFound, nil)
	}
	return nil
}

func (c *Client) SetAttribute(t hw.ObjectType, id hw.ObjectID, name, value string) error {
	key := objectKey(t, string(id))
	found, err := c.exists(key)
	if err != nil {
		return err
	}
	if !found {
		return hw.NewStatusError(hw.StatusItemNotFound, nil)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(c.ctx, key, name, value)
	pipe.HDel(c.ctx, key, nullField)
	if _, err := pipe.Exec(c.ctx); err != nil && !errors.Is(err, redis.Nil) {
		return failure(fmt.Errorf("pipeline exec: %w", err))
	}
	return nil
}

func (c *Client) GetAttribute(t hw.ObjectType, id hw.ObjectID, name string) (string, error) {
	v, err := c.client.HGet(c.ctx, objectKey(t, string(id)), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", hw.NewStatusError(hw.StatusItemNotFound, fmt.Errorf("%s %s: attribute %s not set", t, id, name))
	}
	if err != nil {
		return "", failure(err)
	}
	return v, nil
}

func (c *Client) List(t hw.ObjectType) ([]hw.Object, error) {
	keys, err := c.scanKeys(objectKey(t, "*"))
	if err != nil {
		return nil, failure(err)
	}

	objs := make([]hw.Object, 0, len(keys))
	for _, key := range keys {
		vals, err := c.client.HGetAll(c.ctx, key).Result()
		if err != nil {
			return nil, failure(fmt.Errorf("reading %s: %w", key, err))
		}
		if len(vals) == 0 {
			continue // removed between SCAN and HGETALL
		}
		delete(vals, nullField)
		objs = append(objs, hw.Object{
			Type:       t,
			ID:         idFromKey(t, key),
			Attributes: hw.Attributes(vals),
		})
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
	return objs, nil
}

// scanKeys uses SCAN to find keys matching a pattern (avoids KEYS on large databases).
func (c *Client) scanKeys(pattern string) ([]string, error) {
	var allKeys []string
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(c.ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, err
		}
		allKeys = append(allKeys, keys...)
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return allKeys, nil
}
