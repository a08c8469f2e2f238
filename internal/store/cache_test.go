package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icplookup/internal/icp"
)

func testRequest() icp.QueryRequest {
	return icp.QueryRequest{
		UnitName:    "Example Ltd",
		ServiceType: icp.ServiceWeb,
		PageNum:     1,
		PageSize:    20,
	}
}

func testResult() *icp.QueryResult {
	return &icp.QueryResult{
		List: []icp.Record{
			{DataID: 101, UnitName: "Example Ltd", Domain: "example.com"},
		},
		Total: 1, PageNum: 1, Pages: 1,
	}
}

func TestQueryCachePutGet(t *testing.T) {
	cache, err := OpenQueryCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	req := testRequest()

	got, err := cache.Get(req)
	require.NoError(t, err)
	assert.Nil(t, got, "empty cache should miss")

	require.NoError(t, cache.Put(req, testResult()))

	got, err = cache.Get(req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testResult(), got)
}

func TestQueryCacheKeyedByFullRequest(t *testing.T) {
	cache, err := OpenQueryCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Put(testRequest(), testResult()))

	other := testRequest()
	other.PageNum = 2
	got, err := cache.Get(other)
	require.NoError(t, err)
	assert.Nil(t, got, "different page must not hit")

	other = testRequest()
	other.ServiceType = icp.ServiceApp
	got, err = cache.Get(other)
	require.NoError(t, err)
	assert.Nil(t, got, "different service type must not hit")
}

func TestQueryCacheExpiry(t *testing.T) {
	cache, err := OpenQueryCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	req := testRequest()
	require.NoError(t, cache.Put(req, testResult()))

	// Jump past the TTL.
	cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	got, err := cache.Get(req)
	require.NoError(t, err)
	assert.Nil(t, got, "expired entry should miss")

	pruned, err := cache.Prune()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
}

func TestQueryCachePutReplaces(t *testing.T) {
	cache, err := OpenQueryCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	req := testRequest()
	require.NoError(t, cache.Put(req, testResult()))

	updated := testResult()
	updated.Total = 5
	require.NoError(t, cache.Put(req, updated))

	got, err := cache.Get(req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.Total)
}
