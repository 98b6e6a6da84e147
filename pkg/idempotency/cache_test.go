package idempotency

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestCache(cfg Config) *Cache {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return NewCache(cfg, l)
}

func TestCacheSeenRecentlyFalseBeforeRecord(t *testing.T) {
	c := newTestCache(Config{})
	defer c.Close()

	assert.False(t, c.SeenRecently("tenant-a/cfg-1/file.csv/2026-07-31"))
}

func TestCacheRecordThenSeenRecentlyTrue(t *testing.T) {
	c := newTestCache(Config{})
	defer c.Close()

	key := "tenant-a/cfg-1/file.csv/2026-07-31"
	c.Record(key)
	assert.True(t, c.SeenRecently(key))
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := newTestCache(Config{TTL: 10 * time.Millisecond})
	defer c.Close()

	key := "tenant-a/cfg-1/file.csv/2026-07-31"
	c.Record(key)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, c.SeenRecently(key))
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	c := newTestCache(Config{MaxEntries: 2})
	defer c.Close()

	c.Record("key-1")
	c.Record("key-2")
	c.Record("key-3") // evicts key-1

	assert.False(t, c.SeenRecently("key-1"))
	assert.True(t, c.SeenRecently("key-2"))
	assert.True(t, c.SeenRecently("key-3"))
}

func TestCacheStatsTracksChecksAndHits(t *testing.T) {
	c := newTestCache(Config{})
	defer c.Close()

	c.Record("key-1")
	c.SeenRecently("key-1")
	c.SeenRecently("key-missing")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Checks)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestCacheDistinctKeysDoNotCollide(t *testing.T) {
	c := newTestCache(Config{})
	defer c.Close()

	for i := 0; i < 100; i++ {
		c.Record(fmt.Sprintf("tenant/cfg/file-%d.csv/2026-07-31", i))
	}
	for i := 0; i < 100; i++ {
		assert.True(t, c.SeenRecently(fmt.Sprintf("tenant/cfg/file-%d.csv/2026-07-31", i)))
	}
}
