package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"dosebox/pkg/logx"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "dose_records", `[{"id":0}]`))
	v, err := kv.Get(ctx, "dose_records")
	require.NoError(t, err)
	require.Equal(t, `[{"id":0}]`, v)

	require.NoError(t, kv.Set(ctx, "dose_records", `[]`))
	v, err = kv.Get(ctx, "dose_records")
	require.NoError(t, err)
	require.Equal(t, `[]`, v)
}

func TestDrivers(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"file", Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state", "store.json")}},
		{"sqlite", Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "store.db")}},
		{"redis", Config{Driver: "redis", RedisAddr: mr.Addr(), KeyPrefix: "dosebox:"}},
		{"memory", Config{Driver: "memory"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kv, err := Open(tc.cfg, logx.Nop())
			require.NoError(t, err)
			defer kv.Close()
			exerciseKV(t, kv)
		})
	}

	require.True(t, mr.Exists("dosebox:dose_records"))
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	require.Error(t, err)
}

func TestFileSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	kv, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "broker_settings", `{"host":"h","port":1883}`))
	require.NoError(t, kv.Close())

	kv, err = Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	v, err := kv.Get(ctx, "broker_settings")
	require.NoError(t, err)
	require.Equal(t, `{"host":"h","port":1883}`, v)

	_, err = os.Stat(path + ".tmp")
	require.True(t, errors.Is(err, os.ErrNotExist), "tmp file should be renamed away")
}

func TestFileCorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	kv, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	_, err = kv.Get(context.Background(), "dose_records")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	kv, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "k", "v1"))
	require.NoError(t, kv.Close())

	kv, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v1", v)
}

func TestRedisWrapsExistingClient(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedis(c, "", logx.Logger{})
	defer kv.Close()

	require.NoError(t, kv.Set(context.Background(), "k", "v"))
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestMemoryFailSet(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	m.FailSet = errors.New("disk full")
	require.Error(t, m.Set(context.Background(), "k", "v"))
	_, err := m.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotFound)
}
