// Package testutil provides Redis helpers for tests that exercise the
// ASIC_DB and STATE_DB backends against an in-process miniredis.
package testutil

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// Tables is seed data: table → key → field → value.
type Tables map[string]map[string]map[string]string

// StartRedis starts an in-process Redis server that is stopped when the
// test ends, and returns its address.
func StartRedis(t *testing.T) string {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv.Addr()
}

// withDB runs fn against database db of the server at addr.
func withDB(t *testing.T, addr string, db int, fn func(context.Context, *redis.Client) error) {
	t.Helper()

	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer c.Close()
	if err := fn(context.Background(), c); err != nil {
		t.Fatalf("redis db %d at %s: %v", db, addr, err)
	}
}

func hashArgs(fields map[string]string) []interface{} {
	// Redis has no empty hash; SONiC writes a NULL placeholder.
	if len(fields) == 0 {
		return []interface{}{"NULL", "NULL"}
	}
	args := make([]interface{}, 0, 2*len(fields))
	for f, v := range fields {
		args = append(args, f, v)
	}
	return args
}

// SeedRedis writes every entry of tables as a hash at "TABLE<sep>key". The
// separator is "|" in CONFIG_DB and STATE_DB and ":" in ASIC_DB.
func SeedRedis(t *testing.T, addr string, db int, sep string, tables Tables) {
	t.Helper()

	withDB(t, addr, db, func(ctx context.Context, c *redis.Client) error {
		pipe := c.TxPipeline()
		for table, entries := range tables {
			for key, fields := range entries {
				pipe.HSet(ctx, table+sep+key, hashArgs(fields)...)
			}
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// WriteEntry sets fields on the hash at key.
func WriteEntry(t *testing.T, addr string, db int, key string, fields map[string]string) {
	t.Helper()

	withDB(t, addr, db, func(ctx context.Context, c *redis.Client) error {
		return c.HSet(ctx, key, hashArgs(fields)...).Err()
	})
}

// ReadEntry returns the hash at key, empty when it does not exist.
func ReadEntry(t *testing.T, addr string, db int, key string) map[string]string {
	t.Helper()

	var vals map[string]string
	withDB(t, addr, db, func(ctx context.Context, c *redis.Client) (err error) {
		vals, err = c.HGetAll(ctx, key).Result()
		return err
	})
	return vals
}

// EntryExists reports whether key is present.
func EntryExists(t *testing.T, addr string, db int, key string) bool {
	t.Helper()

	var n int64
	withDB(t, addr, db, func(ctx context.Context, c *redis.Client) (err error) {
		n, err = c.Exists(ctx, key).Result()
		return err
	})
	return n > 0
}
