package inference

import (
	"errors"
	"image"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackwatch/trackwatch/internal/capture"
	twerrors "github.com/trackwatch/trackwatch/internal/errors"
)

const detectorURL = "http://detector.local/v1/detect"

type stubEncoder struct {
	data []byte
	err  error
}

func (s stubEncoder) Encode(image.Image) ([]byte, error) {
	return s.data, s.err
}

func newMockedBackend(t *testing.T, enc Encoder) (*HTTPBackend, *httpmock.MockTransport) {
	t.Helper()
	b, err := NewHTTPBackend(HTTPConfig{URL: detectorURL, Timeout: time.Second}, enc)
	require.NoError(t, err)
	transport := httpmock.NewMockTransport()
	b.Client().HTTPClient().Transport = transport
	return b, transport
}

func testFrame() capture.Frame {
	return capture.Frame{ID: 9, Color: image.NewRGBA(image.Rect(0, 0, 4, 4))}
}

func TestHTTPBackendInfer(t *testing.T) {
	t.Parallel()

	b, transport := newMockedBackend(t, stubEncoder{data: []byte{0xff, 0xd8}})
	body := `{"outputs":[[[0.1,0.2,0.5,0.4,0.9]]]}`
	transport.RegisterResponder(http.MethodPost, detectorURL,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))
			got, _ := io.ReadAll(req.Body)
			assert.Equal(t, []byte{0xff, 0xd8}, got)
			return httpmock.NewStringResponse(http.StatusOK, body), nil
		})

	raw, err := b.Infer(t.Context(), testFrame())
	require.NoError(t, err)
	assert.JSONEq(t, body, string(raw))
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestHTTPBackendErrors(t *testing.T) {
	t.Parallel()

	t.Run("non-200 status", func(t *testing.T) {
		t.Parallel()
		b, transport := newMockedBackend(t, stubEncoder{data: []byte{1}})
		transport.RegisterResponder(http.MethodPost, detectorURL,
			httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

		_, err := b.Infer(t.Context(), testFrame())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 503")
		assert.Contains(t, err.Error(), "frame 9")
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		b, transport := newMockedBackend(t, stubEncoder{data: []byte{1}})
		transport.RegisterResponder(http.MethodPost, detectorURL,
			httpmock.NewErrorResponder(errors.New("connection refused")))

		_, err := b.Infer(t.Context(), testFrame())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("encode error", func(t *testing.T) {
		t.Parallel()
		b, transport := newMockedBackend(t, stubEncoder{err: errors.New("encode failed")})

		_, err := b.Infer(t.Context(), testFrame())
		require.Error(t, err)
		assert.Zero(t, transport.GetTotalCallCount())
	})
}

func TestNewHTTPBackendRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPBackend(HTTPConfig{}, stubEncoder{})
	require.Error(t, err)
	assert.True(t, twerrors.IsCategory(err, twerrors.CategoryConfiguration))
}
