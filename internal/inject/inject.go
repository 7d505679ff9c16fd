package inject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/fluxlab/internal/config"
	"github.com/dmorgan81/fluxlab/internal/feed"
	"github.com/dmorgan81/fluxlab/internal/flux"
	"github.com/dmorgan81/fluxlab/internal/handler"
	"github.com/dmorgan81/fluxlab/internal/image"
	"github.com/dmorgan81/fluxlab/internal/log"
	"github.com/dmorgan81/fluxlab/internal/page"
	"github.com/dmorgan81/fluxlab/internal/param"
	"github.com/dmorgan81/fluxlab/internal/store"
	"github.com/samber/do"
)

// Setup registers every service lazily; AWS clients are only built when a
// bucket, distribution or SSM parameter is configured.
func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, &http.Client{Timeout: cfg.HTTPTimeout})

	if cfg.FluxAPIKey != "" {
		do.ProvideValue[param.Fetcher](injector, param.Static(cfg.FluxAPIKey))
	} else {
		do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	}
	do.ProvideNamed[string](injector, "flux_key", func(i *do.Injector) (string, error) {
		return do.MustInvoke[param.Fetcher](i).Fetch(ctx, cfg.FluxAPIKeyParam)
	})

	do.Provide[*flux.Client](injector, func(i *do.Injector) (*flux.Client, error) {
		return flux.NewClient(flux.Options{
			BaseURL:      cfg.FluxBaseURL,
			APIKey:       do.MustInvokeNamed[string](i, "flux_key"),
			HTTPClient:   do.MustInvoke[*http.Client](i),
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxPollAttempts,
		}), nil
	})
	do.Provide[handler.Generator](injector, func(i *do.Injector) (handler.Generator, error) {
		return do.MustInvoke[*flux.Client](i), nil
	})
	do.Provide[image.Fetcher](injector, func(i *do.Injector) (image.Fetcher, error) {
		return &image.HTTPFetcher{Client: do.MustInvoke[*http.Client](i)}, nil
	})

	do.ProvideNamedValue[string](injector, "bucket", cfg.Bucket)
	do.ProvideNamedValue[string](injector, "distribution", cfg.Distribution)
	do.ProvideNamedValue[string](injector, "public_url", cfg.PublicURL)

	if cfg.Bucket != "" {
		do.Provide[store.Uploader](injector, store.NewS3Uploader)
		do.Provide[*feed.Generator](injector, feed.NewS3Generator)
	} else {
		do.ProvideValue[store.Uploader](injector, &store.FileUploader{Dir: cfg.OutputDir})
	}
	if cfg.Distribution != "" {
		do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)
	} else {
		do.ProvideValue[store.Invalidator](injector, store.NopInvalidator{})
	}

	do.ProvideValue(injector, &page.Templator{})
	do.Provide[*handler.Handler](injector, handler.NewHandler)

	return injector
}
