package gcs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/json"}},
		Request:    r,
	}
}

func newClient(t *testing.T, rt roundTripperFunc) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")

	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusOK, `{}`), nil
	})
	_, err = New(context.Background(), client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestNewVerifiesBucket(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		require.Contains(t, r.URL.Path, "/storage/v1/b/snapshots")
		return jsonResponse(r, http.StatusOK, `{"name":"snapshots"}`), nil
	})

	store, err := New(context.Background(), client, Config{Bucket: "snapshots", VerifyBucket: true})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewReportsMissingBucket(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotFound, `{"error":{"code":404,"message":"Not Found"}}`), nil
	})

	_, err := New(context.Background(), client, Config{Bucket: "missing", VerifyBucket: true})
	require.ErrorContains(t, err, "failed to get GCS bucket")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		if strings.Contains(r.URL.Path, "/upload/storage/v1/b/snapshots/o") {
			// The writer streams through a pipe; the body must be consumed.
			_, _ = io.Copy(io.Discard, r.Body)
			uploads.Add(1)
			return jsonResponse(r, http.StatusOK, `{"name":"resolutions/a.json","bucket":"snapshots"}`), nil
		}
		return jsonResponse(r, http.StatusNotFound, `{}`), nil
	})

	store, err := New(context.Background(), client, Config{Bucket: "snapshots"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "resolutions/a.json", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/resolutions/a.json", uri)
	require.Equal(t, int32(1), uploads.Load())

	_, err = store.PutObject(context.Background(), "  ", "application/json", strings.NewReader(`{}`))
	require.ErrorContains(t, err, "path is required")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestPutObjectAbortsOnReadFailure(t *testing.T) {
	t.Parallel()

	client := newClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Body != nil {
			_, _ = io.Copy(io.Discard, r.Body)
		}
		return jsonResponse(r, http.StatusOK, `{"name":"resolutions/a.json","bucket":"snapshots"}`), nil
	})

	store, err := New(context.Background(), client, Config{Bucket: "snapshots"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "/resolutions/a.json", "application/json", failingReader{})
	require.ErrorContains(t, err, "copy object resolutions/a.json")
}
