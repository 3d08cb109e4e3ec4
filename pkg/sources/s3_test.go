package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listBucketResult = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
	<Name>debs</Name>
	<Prefix>pool/</Prefix>
	<KeyCount>2</KeyCount>
	<MaxKeys>1000</MaxKeys>
	<IsTruncated>false</IsTruncated>
	<Contents><Key>pool/foo_1.0_amd64.deb</Key><Size>3</Size></Contents>
	<Contents><Key>pool/index.html</Key><Size>6</Size></Contents>
</ListBucketResult>`

const noSuchKey = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

func newS3Server(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/debs" && r.URL.Query().Get("list-type") == "2":
			if r.URL.Query().Get("prefix") != "pool/" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			_, _ = fmt.Fprint(w, listBucketResult)
		case r.URL.Path == "/debs/pool/foo_1.0_amd64.deb":
			_, _ = w.Write([]byte("foo"))
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprint(w, noSuchKey)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestS3(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	ts := newS3Server(t)

	src, err := NewS3(ctx, "test", v1.S3Source{
		Bucket:          "debs",
		Prefix:          "pool/",
		Region:          "us-east-1",
		Endpoint:        ts.URL,
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "hunter2",
		PathStyle:       true,
	}, Options{Retries: -1})
	require.NoError(t, err)

	candidates, err := src.List(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.EqualValues(t, RestoreDescriptor{Kind: KindS3, Bucket: "debs", Key: "pool/foo_1.0_amd64.deb"}, candidates[0].Restore)

	rc, err := src.Open(ctx, candidates[0].Restore)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	assert.NoError(t, err)
	assert.NoError(t, rc.Close())
	assert.EqualValues(t, "foo", string(data))

	t.Run("missing key", func(t *testing.T) {
		_, err := src.Open(ctx, RestoreDescriptor{Kind: KindS3, Bucket: "debs", Key: "pool/missing.deb"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, IsTransient(err))
	})
	t.Run("other bucket", func(t *testing.T) {
		_, err := src.Open(ctx, RestoreDescriptor{Kind: KindS3, Bucket: "other", Key: "pool/foo_1.0_amd64.deb"})
		assert.ErrorIs(t, err, ErrUnsupportedKind)
	})
}
