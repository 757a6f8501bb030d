package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves a path-style bucket from memory. It understands the
// requests the S3 driver issues and nothing else.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		return respond(http.StatusOK, nil, nil), nil
	case http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, nil, http.Header{"Content-Length": {fmt.Sprint(len(body))}}), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			xml := `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`
			return respond(http.StatusNotFound, []byte(xml), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(http.StatusOK, body, http.Header{"Content-Length": {fmt.Sprint(len(body))}}), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(prefix string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	// Reverse order so the driver's own sort is observable.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func respond(status int, body []byte, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body))}
}

func newFakeS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "payments",
		Endpoint:        "http://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	require.NoError(t, err)
	return s, fake
}

func TestS3_PutGetExists(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3(t)

	ok, err := s.Exists(ctx, "bank/ach/a.ach")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "bank/ach/a.ach", []byte("101 ...")))
	assert.Contains(t, fake.objects, "bank/ach/a.ach")

	ok, err = s.Exists(ctx, "bank/ach/a.ach")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "bank/ach/a.ach")
	require.NoError(t, err)
	assert.Equal(t, "101 ...", string(got))
}

func TestS3_GetMissing(t *testing.T) {
	s, _ := newFakeS3(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestS3_ListAndDirs(t *testing.T) {
	ctx := context.Background()
	s, fake := newFakeS3(t)
	fake.objects["in/2024-03-02/vpei.csv"] = nil
	fake.objects["in/2024-03-01/vpei.csv"] = nil
	fake.objects["out/x.csv"] = nil

	keys, err := s.List(ctx, "in/")
	require.NoError(t, err)
	assert.Equal(t, []string{"in/2024-03-01/vpei.csv", "in/2024-03-02/vpei.csv"}, keys)

	dirs, err := Dirs(ctx, s, "in")
	require.NoError(t, err)
	assert.Equal(t, []string{"in/2024-03-01", "in/2024-03-02"}, dirs)
}
