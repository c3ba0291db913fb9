package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/apollo-client-go/apollo-client-go/internal/cache"
	"github.com/lalamove/nui/nlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() nlogger.Provider {
	return nlogger.NewProvider(nlogger.New(os.Stdout, ""))
}

func TestFetchSkipsAlreadyCachedNamespace(t *testing.T) {
	c := cache.New()
	c.Upsert(cache.Entry{Name: "ns1"})

	f := New("app1", "default", "", http.DefaultClient, testLogger())
	outcome, _, err := f.Fetch(context.Background(), nil, c, "ns1", "", false)
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/configs/app1/default/ns1", r.URL.Path)
		w.Write([]byte(`{"appId":"app1","cluster":"default","namespaceName":"ns1","releaseKey":"rk1","configurations":{"a":"1"}}`))
	}))
	defer srv.Close()

	f := New("app1", "default", "", srv.Client(), testLogger())
	outcome, entry, err := f.Fetch(context.Background(), []string{srv.URL}, cache.New(), "ns1", "", false)
	require.NoError(t, err)
	assert.Equal(t, Fetched, outcome)
	assert.Equal(t, "rk1", entry.ReleaseKey)
	assert.Equal(t, "1", entry.Items["a"])
}

func TestFetchUnchangedOn304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "releaseKey=rk1")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := New("app1", "default", "", srv.Client(), testLogger())
	outcome, _, err := f.Fetch(context.Background(), []string{srv.URL}, cache.New(), "ns1", "rk1", true)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
}

func TestFetchFallsOverToNextServer(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"appId":"app1","cluster":"default","namespaceName":"ns1","releaseKey":"rk1","configurations":{"a":"1"}}`))
	}))
	defer good.Close()

	f := New("app1", "default", "", good.Client(), testLogger())
	outcome, entry, err := f.Fetch(context.Background(), []string{bad.URL, good.URL}, cache.New(), "ns1", "", false)
	require.NoError(t, err)
	assert.Equal(t, Fetched, outcome)
	assert.Equal(t, "rk1", entry.ReleaseKey)
}

func TestFetchAllServersFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	f := New("app1", "default", "", bad.Client(), testLogger())
	outcome, _, err := f.Fetch(context.Background(), []string{bad.URL}, cache.New(), "ns1", "", false)
	assert.Equal(t, Fetched, outcome)
	assert.ErrorIs(t, err, ErrTransportFailure)
}

func TestFetchDecodeFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	f := New("app1", "default", "", srv.Client(), testLogger())
	_, _, err := f.Fetch(context.Background(), []string{srv.URL}, cache.New(), "ns1", "", false)
	assert.ErrorIs(t, err, ErrDecodeFailure)
}
