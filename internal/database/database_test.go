package database

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailpilot/mailpilot/internal/config"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	rdb, err := NewRedis(config.RedisConfig{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestNewRedis_Unreachable(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{Host: "127.0.0.1", Port: closedPort(t)})
	assert.ErrorContains(t, err, "failed to ping Redis")
}

func TestRedis_PublishRetained(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "jobs")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, rdb.PublishRetained(ctx, "jobs", "jobs:last", `{"phase":"running"}`, time.Hour))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, `{"phase":"running"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message on channel")
	}

	got, err := rdb.GetString(ctx, "jobs:last")
	require.NoError(t, err)
	assert.Equal(t, `{"phase":"running"}`, got)
	assert.Equal(t, time.Hour, mr.TTL("jobs:last"))
}

func TestRedis_CountWithin(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	n, err := rdb.CountWithin(ctx, "failures", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	mr.FastForward(30 * time.Second)
	n, err = rdb.CountWithin(ctx, "failures", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 30*time.Second, mr.TTL("failures"), "window is not extended")

	mr.FastForward(31 * time.Second)
	n, err = rdb.CountWithin(ctx, "failures", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "a new window starts after expiry")

	require.NoError(t, rdb.Delete(ctx, "failures"))
	assert.False(t, mr.Exists("failures"))
	assert.NoError(t, rdb.HealthCheck(ctx))
}

func TestPostgres_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	p := &Postgres{DB: db}
	assert.NoError(t, p.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgres_Unreachable(t *testing.T) {
	_, err := NewPostgres(config.DatabaseConfig{
		Host:    "127.0.0.1",
		Port:    closedPort(t),
		Name:    "mailpilot",
		User:    "mailpilot",
		SSLMode: "disable",
	})
	assert.ErrorContains(t, err, `failed to reach database "mailpilot"`)
}
