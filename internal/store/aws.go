package store

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/fluxlab/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type S3Uploader struct {
	Client    *s3.Client
	Bucket    string
	PublicURL string
}

func NewS3Uploader(i *do.Injector) (Uploader, error) {
	return &S3Uploader{
		Client:    do.MustInvoke[*s3.Client](i),
		Bucket:    do.MustInvokeNamed[string](i, "bucket"),
		PublicURL: do.MustInvokeNamed[string](i, "public_url"),
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, obj Object) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With(
		"key", obj.Key,
		"content-type", obj.ContentType,
		"bucket", u.Bucket,
	)
	log.Info("uploading to s3")

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.Bucket),
		Key:          aws.String(obj.Key),
		ContentType:  aws.String(obj.ContentType),
		Body:         bytes.NewReader(obj.Data),
		Metadata:     EscapeMetadata(obj.Metadata),
		StorageClass: s3types.StorageClassIntelligentTiering,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", obj.Key, err)
	}
	return Location(u.Bucket, u.PublicURL, obj.Key), nil
}

// EscapeMetadata query-escapes values since S3 user metadata must be ASCII.
func EscapeMetadata(m map[string]string) map[string]string {
	return lo.MapValues(m, func(v, _ string) string { return url.QueryEscape(v) })
}

func UnescapeMetadata(m map[string]string) map[string]string {
	return lo.MapValues(m, func(v, _ string) string {
		if s, err := url.QueryUnescape(v); err == nil {
			return s
		}
		return v
	})
}

// Location is the public URL for key when one is configured, otherwise its
// s3:// URI.
func Location(bucket, publicURL, key string) string {
	return lo.Ternary(publicURL != "", publicURL+"/"+key, "s3://"+bucket+"/"+key)
}

type CloudFrontInvalidator struct {
	Client       *cloudfront.Client
	Distribution string
}

func NewCloudFrontInvalidator(i *do.Injector) (Invalidator, error) {
	return &CloudFrontInvalidator{
		Client:       do.MustInvoke[*cloudfront.Client](i),
		Distribution: do.MustInvokeNamed[string](i, "distribution"),
	}, nil
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("cloudfront").With("paths", paths, "distribution", i.Distribution)
	log.Info("invalidating paths in cloudfront")

	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(time.Now().UTC().Format("20060102150405.000000000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
