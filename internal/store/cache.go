// Package store persists successful registry lookups so repeated
// queries inside the TTL skip the whole captcha round.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"icplookup/internal/icp"
	"icplookup/internal/logging"
)

// QueryCache is a SQLite-backed cache of query result pages, keyed by
// the full request tuple. Thread-safe with a read-write mutex.
type QueryCache struct {
	db  *sql.DB
	mu  sync.RWMutex
	ttl time.Duration

	// now is swapped in tests to exercise expiry.
	now func() time.Time
}

// OpenQueryCache opens (creating if needed) the cache database under
// dataDir and ensures its schema.
func OpenQueryCache(dataDir string, ttl time.Duration) (*QueryCache, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "query_cache.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	cache := &QueryCache{db: db, ttl: ttl, now: time.Now}
	if err := cache.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}

	logging.Store("query cache opened at %s (ttl %s)", dbPath, ttl)
	return cache, nil
}

func (c *QueryCache) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_results (
		service_type INTEGER NOT NULL,
		unit_name TEXT NOT NULL,
		page_num INTEGER NOT NULL,
		page_size INTEGER NOT NULL,
		result TEXT NOT NULL,
		cached_at DATETIME NOT NULL,
		PRIMARY KEY (service_type, unit_name, page_num, page_size)
	);

	CREATE INDEX IF NOT EXISTS idx_query_results_cached_at ON query_results(cached_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Get returns the cached page for req, or (nil, nil) on a miss or an
// expired entry.
func (c *QueryCache) Get(req icp.QueryRequest) (*icp.QueryResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var payload string
	var cachedAt time.Time
	err := c.db.QueryRow(`
		SELECT result, cached_at FROM query_results
		WHERE service_type = ? AND unit_name = ? AND page_num = ? AND page_size = ?`,
		int(req.ServiceType), req.UnitName, req.PageNum, req.PageSize,
	).Scan(&payload, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	if c.now().Sub(cachedAt) > c.ttl {
		logging.StoreDebug("cache entry for %q (%s) expired", req.UnitName, req.ServiceType)
		return nil, nil
	}

	var result icp.QueryResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	logging.StoreDebug("cache hit for %q (%s) page %d", req.UnitName, req.ServiceType, req.PageNum)
	return &result, nil
}

// Put stores a result page, replacing any previous entry for the same
// request.
func (c *QueryCache) Put(req icp.QueryRequest, result *icp.QueryResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO query_results
		(service_type, unit_name, page_num, page_size, result, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int(req.ServiceType), req.UnitName, req.PageNum, req.PageSize,
		string(payload), c.now(),
	)
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Prune deletes every expired entry and returns how many were removed.
func (c *QueryCache) Prune() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	res, err := c.db.Exec(`DELETE FROM query_results WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("pruned %d expired cache entries", n)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (c *QueryCache) Close() error {
	return c.db.Close()
}
