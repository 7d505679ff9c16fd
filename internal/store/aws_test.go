package store

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) string {
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts.URL
}

func newTestS3Client(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(endpoint),
		UsePathStyle:     true,
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	})
}

type putRequest struct {
	path   string
	header http.Header
	body   []byte
}

func TestS3Uploader_Upload(t *testing.T) {
	puts := make(chan putRequest, 1)
	endpoint := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, _ := io.ReadAll(r.Body)
		puts <- putRequest{path: r.URL.Path, header: r.Header.Clone(), body: body}
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	})
	u := &S3Uploader{Client: newTestS3Client(endpoint), Bucket: "gallery", PublicURL: "https://img.example.com"}

	loc, err := u.Upload(context.Background(), Object{
		Key:         "0b6f/chaton.jpg",
		Data:        []byte("jpeg bytes"),
		ContentType: "image/jpeg",
		Metadata:    map[string]string{"prompt": "chaton à la crème", "seed": "42"},
	})

	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/0b6f/chaton.jpg", loc)
	put := <-puts
	assert.Equal(t, "/gallery/0b6f/chaton.jpg", put.path)
	assert.Equal(t, "jpeg bytes", string(put.body))
	assert.Equal(t, "image/jpeg", put.header.Get("Content-Type"))
	assert.Equal(t, "INTELLIGENT_TIERING", put.header.Get("X-Amz-Storage-Class"))
	assert.Equal(t, "chaton+%C3%A0+la+cr%C3%A8me", put.header.Get("X-Amz-Meta-Prompt"))
	assert.Equal(t, "42", put.header.Get("X-Amz-Meta-Seed"))
}

func TestS3Uploader_UploadFailure(t *testing.T) {
	endpoint := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	u := &S3Uploader{Client: newTestS3Client(endpoint), Bucket: "gallery"}

	_, err := u.Upload(context.Background(), Object{Key: "0b6f/chaton.jpg", Data: []byte("x")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploading 0b6f/chaton.jpg")
}

type invalidationBatch struct {
	CallerReference string
	Quantity        int      `xml:"Paths>Quantity"`
	Paths           []string `xml:"Paths>Items>Path"`
}

func TestCloudFrontInvalidator_Invalidate(t *testing.T) {
	type invalidation struct {
		path  string
		batch invalidationBatch
	}
	got := make(chan invalidation, 1)
	endpoint := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var batch invalidationBatch
		assert.NoError(t, xml.NewDecoder(r.Body).Decode(&batch))
		got <- invalidation{path: r.URL.Path, batch: batch}
		w.Header().Set("Content-Type", "text/xml")
		w.Header().Set("Location", "https://cloudfront.amazonaws.com/2020-05-31/distribution/EDFDVBD6EXAMPLE/invalidation/I1")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<Invalidation xmlns="http://cloudfront.amazonaws.com/doc/2020-05-31/">`+
			`<Id>I1</Id><Status>InProgress</Status><CreateTime>2024-11-02T10:00:00Z</CreateTime>`+
			`</Invalidation>`)
	})
	inv := &CloudFrontInvalidator{
		Client: cloudfront.New(cloudfront.Options{
			Region:           "us-east-1",
			BaseEndpoint:     aws.String(endpoint),
			Credentials:      aws.AnonymousCredentials{},
			RetryMaxAttempts: 1,
		}),
		Distribution: "EDFDVBD6EXAMPLE",
	}

	err := inv.Invalidate(context.Background(), []string{"/latest.jpg", "/latest.html"})

	require.NoError(t, err)
	req := <-got
	assert.Equal(t, "/2020-05-31/distribution/EDFDVBD6EXAMPLE/invalidation", req.path)
	assert.Equal(t, 2, req.batch.Quantity)
	assert.Equal(t, []string{"/latest.jpg", "/latest.html"}, req.batch.Paths)
	assert.NotEmpty(t, req.batch.CallerReference)
}
