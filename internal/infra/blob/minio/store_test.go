package minio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidflow/internal/blob/core"
)

// fakeServer answers the subset of the S3 API minio-go uses here, with
// path-style addressing.
type fakeServer struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

func newFakeServer() *fakeServer {
	return &fakeServer{buckets: map[string]bool{}, objects: map[string]fakeObject{}}
}

func (f *fakeServer) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	bucket, key := parts[0], ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if key == "" {
		switch {
		case req.Method == http.MethodHead:
			if f.buckets[bucket] {
				return reply(http.StatusOK, nil, nil), nil
			}
			return reply(http.StatusNotFound, nil, nil), nil
		case req.Method == http.MethodPut:
			f.buckets[bucket] = true
			return reply(http.StatusOK, nil, nil), nil
		case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
			return f.list(req.URL.Query().Get("prefix")), nil
		}
		return reply(http.StatusNotImplemented, nil, nil), nil
	}

	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return reply(http.StatusNotFound, nil, nil), nil
		}
		return reply(http.StatusOK, headersFor(obj), nil), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return reply(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}},
				[]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)), nil
		}
		return reply(http.StatusOK, headersFor(obj), obj.body), nil
	case http.MethodPut:
		body, err := readPayload(req)
		if err != nil {
			return nil, err
		}
		meta := map[string]string{}
		for name, values := range req.Header {
			if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return reply(http.StatusOK, http.Header{"ETag": {`"etag"`}}, nil), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return reply(http.StatusNoContent, nil, nil), nil
	}
	return reply(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeServer) list(prefix string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>bids</Name><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;etag&quot;</ETag><LastModified>2025-01-01T00:00:00.000Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return reply(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func headersFor(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"ETag":           {`"etag"`},
		"Last-Modified":  {time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
	}
	for k, v := range obj.meta {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func reply(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

// readPayload returns the object bytes, unwrapping aws-chunked streaming
// uploads (signed or unsigned chunk headers).
func readPayload(req *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") &&
		!strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		return raw, nil
	}
	var out bytes.Buffer
	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.ParseInt(strings.SplitN(strings.TrimSpace(line), ";", 2)[0], 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func newTestStore(t *testing.T) (*Store, *fakeServer) {
	t.Helper()
	srv := newFakeServer()
	s, err := New(Config{Endpoint: "minio.local:9000", AccessKey: "minioadmin", SecretKey: "minioadmin", Bucket: "bids", Transport: srv})
	require.NoError(t, err)
	return s, srv
}

func TestEnsureBucketCreatesOnce(t *testing.T) {
	s, srv := newTestStore(t)
	require.NoError(t, s.EnsureBucket(context.Background()))
	assert.True(t, srv.buckets["bids"])
	require.NoError(t, s.EnsureBucket(context.Background()))
}

func TestMinIORoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	assert.Equal(t, core.DriverMinIO, s.Driver())
	assert.Equal(t, "bids", s.Bucket())

	info, err := s.Put(ctx, "attachments/QMS-9/boq.xlsx", strings.NewReader("sheet"), core.PutOptions{
		ContentType: "application/vnd.ms-excel",
		Metadata:    map[string]string{"name": "boq.xlsx"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "etag", info.ETag)
	assert.Equal(t, "boq.xlsx", info.Metadata["name"])

	_, err = s.Put(ctx, "attachments/QMS-9/boq.xlsx", strings.NewReader("again"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "attachments/QMS-9/boq.xlsx")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "sheet", string(body))
	assert.Equal(t, "application/vnd.ms-excel", got.ContentType)

	list, err := s.List(ctx, "attachments/QMS-9/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "attachments/QMS-9/boq.xlsx", list[0].Key)

	url, err := s.PresignURL(ctx, "attachments/QMS-9/boq.xlsx", core.SignedURLOptions{Expiry: time.Hour})
	require.NoError(t, err)
	assert.Contains(t, url, "X-Amz-Signature")
	assert.Contains(t, url, "X-Amz-Expires=3600")

	ok, err := s.Delete(ctx, "attachments/QMS-9/boq.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "attachments/QMS-9/boq.xlsx")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Stat(ctx, "attachments/QMS-9/boq.xlsx")
	assert.True(t, errors.Is(err, core.ErrNotFound))
	_, _, err = s.Get(ctx, "attachments/QMS-9/boq.xlsx")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	_, err := New(Config{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
