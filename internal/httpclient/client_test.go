package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	c := New(&Config{})
	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, int64(DefaultMaxBodyBytes), c.maxBodyBytes)
	assert.Equal(t, defaultUserAgent, c.userAgent)

	c = New(&Config{DefaultTimeout: time.Second, UserAgent: "probe/1.0"})
	assert.Equal(t, time.Second, c.defaultTimeout)
	assert.Equal(t, "probe/1.0", c.userAgent)
}

func TestPostBytes(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"n":` + strconv.Itoa(len(body)) + `}`))
	})

	c := New(nil)
	t.Cleanup(c.Close)

	var observed atomic.Int32
	c.SetObserveHook(func(_ *http.Request, status int, _ time.Duration, err error) {
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, err)
		observed.Add(1)
	})

	resp, err := c.PostBytes(t.Context(), server.URL, "image/jpeg", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"n":3}`, string(resp.Body))
	assert.Equal(t, int32(1), observed.Load())
}

func TestPostBytesTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	c := New(&Config{DefaultTimeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.PostBytes(t.Context(), server.URL, "", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPostBytesBodyLimit(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})

	c := New(&Config{MaxBodyBytes: 16})
	_, err := c.PostBytes(t.Context(), server.URL, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}
