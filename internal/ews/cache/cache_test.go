package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/Folokee/SASSI-Microservices/internal/ews/cache"
	"github.com/Folokee/SASSI-Microservices/internal/ews/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*cache.ReadModelCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewReadModelCache(cache.NewRedisKVStore(client), zap.NewNop()), mr
}

func TestReadModelCache_PutGet(t *testing.T) {
	c, _ := newTestCache(t)

	rm := &models.PatientReadModel{
		PatientID:    "P1",
		CurrentScore: 5,
		ClinicalRisk: "Medium",
		ScoreHistory: []models.HistoryEntry{},
		LastUpdated:  time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Put(context.Background(), rm))

	got, err := c.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, rm.PatientID, got.PatientID)
	assert.Equal(t, rm.CurrentScore, got.CurrentScore)
	assert.Equal(t, rm.ClinicalRisk, got.ClinicalRisk)
}

func TestReadModelCache_MissAndExpiry(t *testing.T) {
	c, mr := newTestCache(t)

	_, err := c.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	rm := &models.PatientReadModel{PatientID: "P1", ScoreHistory: []models.HistoryEntry{}}
	require.NoError(t, c.Put(context.Background(), rm))

	// TTL elapses
	mr.FastForward(cache.DefaultTTL + time.Second)
	_, err = c.Get(context.Background(), "P1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}
