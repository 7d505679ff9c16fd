package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/dmorgan81/fluxlab/internal/flux"
	"github.com/dmorgan81/fluxlab/internal/page"
	"github.com/dmorgan81/fluxlab/internal/store"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	sample string
	err    error
	got    []flux.Request
}

func (g *fakeGenerator) GenerateImage(_ context.Context, req flux.Request) (string, error) {
	g.got = append(g.got, req)
	return g.sample, g.err
}

type fakeFetcher struct {
	data    map[string][]byte
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.fetched = append(f.fetched, url)
	data, ok := f.data[url]
	if !ok {
		return nil, errors.New("fetching image: http 404")
	}
	return data, nil
}

type fakeUploader struct {
	objects []store.Object
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, obj store.Object) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.objects = append(u.objects, obj)
	return "https://img.example.com/" + obj.Key, nil
}

type fakeInvalidator struct {
	paths []string
}

func (i *fakeInvalidator) Invalidate(_ context.Context, paths []string) error {
	i.paths = append(i.paths, paths...)
	return nil
}

type fakeFeed struct{}

func (fakeFeed) Generate(context.Context) ([]byte, error) { return []byte("<rss/>"), nil }

type fixture struct {
	gen  *fakeGenerator
	get  *fakeFetcher
	up   *fakeUploader
	inv  *fakeInvalidator
	hand *Handler
}

func newFixture() *fixture {
	f := &fixture{
		gen: &fakeGenerator{sample: "https://x/y.jpg"},
		get: &fakeFetcher{data: map[string][]byte{
			"https://x/y.jpg":           []byte("generated"),
			"https://ref.example/a.png": []byte("reference"),
		}},
		up:  &fakeUploader{},
		inv: &fakeInvalidator{},
	}
	f.hand = &Handler{
		generator:   f.gen,
		fetcher:     f.get,
		uploader:    f.up,
		invalidator: f.inv,
		templator:   &page.Templator{},
		newID:       func() string { return "0b6f" },
	}
	return f
}

func TestHandle_FluxDefaults(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{Command: "flux", Prompt: "A kitten, in a teacup!", User: "someone"})

	require.NoError(t, err)
	assert.False(t, out.Failed(), out.Message)
	require.Len(t, f.gen.got, 1)
	assert.Equal(t, flux.ProRequest{
		Prompt:           "A kitten, in a teacup!",
		Width:            1024,
		Height:           768,
		PromptUpsampling: true,
		SafetyTolerance:  6,
		OutputFormat:     "jpeg",
	}, f.gen.got[0])

	assert.Equal(t, "a-kitten-in-a-teacup.jpg", out.Name)
	assert.Equal(t, "https://img.example.com/0b6f/a-kitten-in-a-teacup.jpg", out.Location)
	assert.Equal(t, "https://x/y.jpg", out.Sample)

	assert.Equal(t, "https://img.example.com/0b6f/a-kitten-in-a-teacup.html", out.Page)

	keys := lo.Map(f.up.objects, func(o store.Object, _ int) string { return o.Key })
	assert.Equal(t, []string{
		"0b6f/a-kitten-in-a-teacup.jpg",
		"0b6f/a-kitten-in-a-teacup.html",
		"latest.jpg",
		"latest.html",
	}, keys)
	assert.Equal(t, []byte("generated"), f.up.objects[0].Data)
	assert.Equal(t, "image/jpeg", f.up.objects[0].ContentType)
	assert.Equal(t, "flux-pro-1.1", f.up.objects[0].Metadata["model"])
	assert.Equal(t, "someone", f.up.objects[0].Metadata["user"])
	assert.Equal(t, []byte("generated"), f.up.objects[2].Data)
	assert.Equal(t, []string{"/latest.jpg", "/latest.html"}, f.inv.paths)
}

func TestHandle_UploadsPages(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{
		Command: "flux",
		Prompt:  "A kitten, in a teacup!",
		Seed:    lo.ToPtr(7),
		User:    "someone",
	})

	require.NoError(t, err)
	assert.False(t, out.Failed(), out.Message)
	require.Len(t, f.up.objects, 4)

	imagePage := f.up.objects[1]
	assert.Equal(t, page.ContentType, imagePage.ContentType)
	assert.Contains(t, string(imagePage.Data), `<img src="a-kitten-in-a-teacup.jpg"`)
	assert.Contains(t, string(imagePage.Data), "<dd>flux-pro-1.1</dd>")
	assert.Contains(t, string(imagePage.Data), "<dd>7</dd>")
	assert.Contains(t, string(imagePage.Data), "<dd>someone</dd>")

	latestPage := f.up.objects[3]
	assert.Equal(t, "latest.html", latestPage.Key)
	assert.Equal(t, page.ContentType, latestPage.ContentType)
	assert.Contains(t, string(latestPage.Data), `<img src="latest.jpg"`)
}

func TestHandle_UltraDefaultsAndOverrides(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{
		Command:         "fluxultra",
		Prompt:          "a lighthouse",
		Seed:            lo.ToPtr(42),
		SafetyTolerance: lo.ToPtr(2),
		Raw:             true,
		OutputFormat:    "PNG",
	})

	require.NoError(t, err)
	assert.False(t, out.Failed(), out.Message)
	require.Len(t, f.gen.got, 1)
	req, ok := f.gen.got[0].(flux.UltraRequest)
	require.True(t, ok)
	assert.Equal(t, "1:1", req.AspectRatio)
	assert.Equal(t, 0.1, req.ImagePromptStrength)
	assert.Equal(t, 2, req.SafetyTolerance)
	assert.Equal(t, 42, *req.Seed)
	assert.True(t, req.Raw)
	assert.Equal(t, "png", req.OutputFormat)
	assert.Equal(t, "a-lighthouse.png", out.Name)
	assert.Equal(t, "42", f.up.objects[0].Metadata["seed"])
	assert.Equal(t, []string{"/latest.png", "/latest.html"}, f.inv.paths)
}

func TestHandle_ImagePromptURLIsFetchedAndEncoded(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{
		Command:     "flux",
		Prompt:      "same but blue",
		ImagePrompt: "https://ref.example/a.png",
	})

	require.NoError(t, err)
	assert.False(t, out.Failed(), out.Message)
	req := f.gen.got[0].(flux.ProRequest)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("reference")), req.ImagePrompt)
	assert.Equal(t, []string{"https://ref.example/a.png", "https://x/y.jpg"}, f.get.fetched)
}

func TestHandle_ImagePromptPassthrough(t *testing.T) {
	f := newFixture()

	_, err := f.hand.Handle(context.Background(), Input{Command: "flux", Prompt: "p", ImagePrompt: "aGVsbG8="})

	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", f.gen.got[0].(flux.ProRequest).ImagePrompt)
}

func TestHandle_ReportsErrorsVerbatim(t *testing.T) {
	f := newFixture()
	jobErr := &flux.JobFailedError{ID: "abc123", Status: "Error"}
	f.gen.err = jobErr

	out, err := f.hand.Handle(context.Background(), Input{Command: "flux", Prompt: "p"})

	require.NoError(t, err)
	assert.True(t, out.Failed())
	assert.Equal(t, jobErr.Error(), out.Message)
	assert.Empty(t, f.up.objects)
	assert.Empty(t, f.get.fetched)
}

func TestHandle_ImagePromptFetchFailure(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{Command: "flux", Prompt: "p", ImagePrompt: "https://ref.example/missing.png"})

	require.NoError(t, err)
	assert.Contains(t, out.Message, "downloading image prompt")
	assert.Empty(t, f.gen.got)
}

func TestHandle_UploadFailure(t *testing.T) {
	f := newFixture()
	f.up.err = errors.New("access denied")

	out, err := f.hand.Handle(context.Background(), Input{Command: "flux", Prompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, "access denied", out.Message)
	assert.Empty(t, f.inv.paths)
}

func TestHandle_UnknownCommand(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{Command: "dalle", Prompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, `unknown command "dalle"`, out.Message)
}

func TestHandle_Feed(t *testing.T) {
	f := newFixture()

	out, err := f.hand.Handle(context.Background(), Input{Command: "feed"})
	require.NoError(t, err)
	assert.Equal(t, ErrNoFeed.Error(), out.Message)

	f.hand.feed = fakeFeed{}
	out, err = f.hand.Handle(context.Background(), Input{Command: "feed"})

	require.NoError(t, err)
	assert.False(t, out.Failed(), out.Message)
	assert.Equal(t, "https://img.example.com/gallery.rss", out.Location)
	assert.Equal(t, "application/rss+xml", f.up.objects[0].ContentType)
	assert.Equal(t, []string{"/gallery.rss"}, f.inv.paths)
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"A kitten, in a teacup!": "a-kitten-in-a-teacup",
		"   ":                    "image",
		"***":                    "image",
		"chaton à la crème":      "chaton-à-la-crème",
		"../../etc/passwd":       "etc-passwd",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileName(in), in)
	}

	long := FileName("abcdefghij abcdefghij abcdefghij abcdefghij abcdefghij abcdefghij abcdefghij")
	assert.Equal(t, "abcdefghij-abcdefghij-abcdefghij-abcdefghij-abcdefghij-abcde", long)
}
