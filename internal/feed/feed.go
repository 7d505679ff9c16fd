package feed

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/fluxlab/internal/log"
	"github.com/dmorgan81/fluxlab/internal/store"
	"github.com/gorilla/feeds"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	Key = "gallery.rss"

	headConcurrency = 16
)

type Generator struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewS3Generator(i *do.Injector) (*Generator, error) {
	return &Generator{
		client:    do.MustInvoke[*s3.Client](i),
		bucket:    do.MustInvokeNamed[string](i, "bucket"),
		publicURL: do.MustInvokeNamed[string](i, "public_url"),
	}, nil
}

// Generate lists every delivered image in the bucket and renders an RSS feed
// of them, newest first.
func (g *Generator) Generate(ctx context.Context) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("feed").With("bucket", g.bucket)
	log.Info("generating gallery feed")

	var (
		mu    sync.Mutex
		items []*feeds.Item
	)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(headConcurrency)

	pager := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(gctx)
		if err != nil {
			// a failed head cancels gctx, so report it over the listing error
			if werr := group.Wait(); werr != nil {
				return nil, werr
			}
			return nil, fmt.Errorf("listing %s: %w", g.bucket, err)
		}

		objs := lo.Filter(page.Contents, func(o s3types.Object, _ int) bool {
			return IsGalleryImage(aws.ToString(o.Key))
		})
		for _, obj := range objs {
			key := aws.ToString(obj.Key)
			group.Go(func() error {
				out, err := g.client.HeadObject(gctx, &s3.HeadObjectInput{
					Bucket: aws.String(g.bucket),
					Key:    aws.String(key),
				})
				if err != nil {
					return fmt.Errorf("head %s: %w", key, err)
				}
				item := NewItem(store.Location(g.bucket, g.publicURL, key),
					store.UnescapeMetadata(out.Metadata), aws.ToTime(out.LastModified))
				mu.Lock()
				items = append(items, item)
				mu.Unlock()
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	log.Info("rendering gallery feed", "items", len(items))
	return Render(g.publicURL, time.Now().UTC(), items)
}

// IsGalleryImage excludes the latest.* aliases and anything that isn't an
// image, such as the feed itself.
func IsGalleryImage(key string) bool {
	base := path.Base(key)
	if strings.HasPrefix(base, "latest.") {
		return false
	}
	ext := strings.ToLower(path.Ext(base))
	return ext == ".jpg" || ext == ".png"
}

func NewItem(link string, meta map[string]string, updated time.Time) *feeds.Item {
	title := meta["prompt"]
	if title == "" {
		title = path.Base(link)
	}
	if model := meta["model"]; model != "" {
		title = fmt.Sprintf("%s:%s", title, model)
	}
	if seed := meta["seed"]; seed != "" {
		title = fmt.Sprintf("%s:%s", title, seed)
	}
	return &feeds.Item{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: meta["user"],
		Id:          link,
		Updated:     updated,
		Created:     updated,
	}
}

func Render(publicURL string, now time.Time, items []*feeds.Item) ([]byte, error) {
	feed := feeds.Feed{
		Title:       "fluxlab",
		Description: "Images generated with FLUX",
		Link:        &feeds.Link{Href: publicURL},
		Updated:     now,
		Items:       items,
	}
	feed.Sort(func(a, b *feeds.Item) bool {
		return b.Updated.Before(a.Updated)
	})
	rss, err := feed.ToRss()
	return []byte(rss), err
}
