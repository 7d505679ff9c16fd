package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dmorgan81/fluxlab/internal/feed"
	"github.com/dmorgan81/fluxlab/internal/flux"
	"github.com/dmorgan81/fluxlab/internal/image"
	"github.com/dmorgan81/fluxlab/internal/log"
	"github.com/dmorgan81/fluxlab/internal/page"
	"github.com/dmorgan81/fluxlab/internal/store"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	CommandFlux  = "flux"
	CommandUltra = "fluxultra"
	CommandFeed  = "feed"

	maxNameRunes = 60
)

var ErrNoFeed = errors.New("gallery feed requires an S3 bucket")

// Generator is the one capability the handler needs from the FLUX client.
type Generator interface {
	GenerateImage(context.Context, flux.Request) (string, error)
}

type FeedGenerator interface {
	Generate(context.Context) ([]byte, error)
}

// Input is a user command. Pointer fields are optional and fall back to the
// same defaults the slash commands advertise.
type Input struct {
	Command             string   `json:"command"`
	User                string   `json:"user,omitempty"`
	Prompt              string   `json:"prompt,omitempty"`
	ImagePrompt         string   `json:"image_prompt,omitempty"`
	Width               *int     `json:"width,omitempty"`
	Height              *int     `json:"height,omitempty"`
	PromptImprovement   *bool    `json:"prompt_improvement,omitempty"`
	Seed                *int     `json:"seed,omitempty"`
	SafetyTolerance     *int     `json:"safety_tolerance,omitempty"`
	AspectRatio         string   `json:"aspect_ratio,omitempty"`
	Raw                 bool     `json:"raw,omitempty"`
	ImagePromptStrength *float64 `json:"image_prompt_strength,omitempty"`
	OutputFormat        string   `json:"output_format,omitempty"`
}

func (i Input) format() string {
	return lo.Ternary(i.OutputFormat != "", strings.ToLower(i.OutputFormat), flux.FormatJPEG)
}

func (i Input) toProRequest(imagePrompt string) flux.ProRequest {
	return flux.ProRequest{
		Prompt:           i.Prompt,
		ImagePrompt:      imagePrompt,
		Width:            lo.FromPtrOr(i.Width, 1024),
		Height:           lo.FromPtrOr(i.Height, 768),
		PromptUpsampling: lo.FromPtrOr(i.PromptImprovement, true),
		Seed:             i.Seed,
		SafetyTolerance:  lo.FromPtrOr(i.SafetyTolerance, 6),
		OutputFormat:     i.format(),
	}
}

func (i Input) toUltraRequest(imagePrompt string) flux.UltraRequest {
	return flux.UltraRequest{
		Prompt:              i.Prompt,
		ImagePrompt:         imagePrompt,
		AspectRatio:         lo.Ternary(i.AspectRatio != "", i.AspectRatio, "1:1"),
		Seed:                i.Seed,
		SafetyTolerance:     lo.FromPtrOr(i.SafetyTolerance, 6),
		OutputFormat:        i.format(),
		Raw:                 i.Raw,
		ImagePromptStrength: lo.FromPtrOr(i.ImagePromptStrength, 0.1),
	}
}

func (i Input) seed() string {
	return lo.Ternary(i.Seed != nil, strconv.Itoa(lo.FromPtr(i.Seed)), "")
}

// toPageParams links the image relative to the page, which sits beside it.
func (i Input) toPageParams(imageName, model string) page.Params {
	return page.Params{
		Image:  imageName,
		Model:  model,
		Prompt: i.Prompt,
		Seed:   i.seed(),
		User:   i.User,
	}
}

func (i Input) toMetadata(model string) map[string]string {
	return map[string]string{
		"prompt": i.Prompt,
		"model":  model,
		"seed":   i.seed(),
		"user":   i.User,
	}
}

// Output is the reply to the user. Message holds the error text when the
// command failed.
type Output struct {
	Command  string `json:"command"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location,omitempty"`
	Page     string `json:"page,omitempty"`
	Sample   string `json:"sample,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (o Output) Failed() bool { return o.Message != "" }

type Handler struct {
	generator   Generator
	fetcher     image.Fetcher
	uploader    store.Uploader
	invalidator store.Invalidator
	templator   *page.Templator
	feed        FeedGenerator
	newID       func() string
}

func NewHandler(i *do.Injector) (*Handler, error) {
	h := &Handler{
		generator:   do.MustInvoke[Generator](i),
		fetcher:     do.MustInvoke[image.Fetcher](i),
		uploader:    do.MustInvoke[store.Uploader](i),
		invalidator: do.MustInvoke[store.Invalidator](i),
		templator:   do.MustInvoke[*page.Templator](i),
		newID:       uuid.NewString,
	}
	if g, err := do.Invoke[*feed.Generator](i); err == nil {
		h.feed = g
	}
	return h, nil
}

// Handle runs one command. Failures are reported in Output.Message rather than
// returned so the caller always has something to show the user.
func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With(
		"command", input.Command,
		"user", input.User,
		"prompt", input.Prompt,
	)
	log.Info("handling command")

	out := Output{Command: input.Command}
	var err error
	switch strings.ToLower(strings.TrimSpace(input.Command)) {
	case CommandFlux:
		err = h.generate(ctx, input, func(ip string) flux.Request { return input.toProRequest(ip) }, &out)
	case CommandUltra:
		err = h.generate(ctx, input, func(ip string) flux.Request { return input.toUltraRequest(ip) }, &out)
	case CommandFeed:
		err = h.rebuildFeed(ctx, &out)
	default:
		err = fmt.Errorf("unknown command %q", input.Command)
	}
	if err != nil {
		log.Error("command failed", "error", err)
		out.Message = err.Error()
		return out, nil
	}

	log.Info("command complete", "location", out.Location)
	return out, nil
}

func (h *Handler) generate(ctx context.Context, input Input, build func(string) flux.Request, out *Output) error {
	imagePrompt, err := h.imagePrompt(ctx, input.ImagePrompt)
	if err != nil {
		return err
	}
	req := build(imagePrompt)

	sample, err := h.generator.GenerateImage(ctx, req)
	if err != nil {
		return err
	}
	out.Sample = sample

	data, err := h.fetcher.Fetch(ctx, sample)
	if err != nil {
		return fmt.Errorf("downloading generated image: %w", err)
	}

	contentType, ext := image.ContentType(input.format())
	slug := FileName(input.Prompt)
	prefix := h.newID() + "/"
	metadata := input.toMetadata(req.Endpoint())

	obj := store.Object{
		Key:         prefix + slug + ext,
		Data:        data,
		ContentType: contentType,
		Metadata:    metadata,
	}
	location, err := h.uploader.Upload(ctx, obj)
	if err != nil {
		return err
	}

	html, err := h.templator.Template(ctx, input.toPageParams(slug+ext, req.Endpoint()))
	if err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	pageLocation, err := h.uploader.Upload(ctx, store.Object{
		Key:         prefix + slug + ".html",
		Data:        html,
		ContentType: page.ContentType,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}

	latestHTML, err := h.templator.Template(ctx, input.toPageParams("latest"+ext, req.Endpoint()))
	if err != nil {
		return fmt.Errorf("rendering page: %w", err)
	}
	latest := []store.Object{
		{Key: "latest" + ext, Data: data, ContentType: contentType, Metadata: metadata},
		{Key: "latest.html", Data: latestHTML, ContentType: page.ContentType, Metadata: metadata},
	}
	for _, o := range latest {
		if _, err := h.uploader.Upload(ctx, o); err != nil {
			return err
		}
	}
	paths := lo.Map(latest, func(o store.Object, _ int) string { return "/" + o.Key })
	if err := h.invalidator.Invalidate(ctx, paths); err != nil {
		return err
	}

	out.Name = slug + ext
	out.Location = location
	out.Page = pageLocation
	return nil
}

// imagePrompt turns the user's reference image into the base64 string the
// API expects. URLs are downloaded; anything else is assumed to be encoded
// already.
func (h *Handler) imagePrompt(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || !image.IsURL(ref) {
		return ref, nil
	}
	data, err := h.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("downloading image prompt: %w", err)
	}
	return image.EncodeBase64(data), nil
}

func (h *Handler) rebuildFeed(ctx context.Context, out *Output) error {
	if h.feed == nil {
		return ErrNoFeed
	}
	rss, err := h.feed.Generate(ctx)
	if err != nil {
		return err
	}
	location, err := h.uploader.Upload(ctx, store.Object{
		Key:         feed.Key,
		Data:        rss,
		ContentType: "application/rss+xml",
	})
	if err != nil {
		return err
	}
	if err := h.invalidator.Invalidate(ctx, []string{"/" + feed.Key}); err != nil {
		return err
	}
	out.Name = feed.Key
	out.Location = location
	return nil
}

// FileName derives a file name from the first 60 characters of the prompt.
func FileName(prompt string) string {
	runes := lo.Slice([]rune(strings.TrimSpace(prompt)), 0, maxNameRunes)
	var b strings.Builder
	dash := false
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimRight(b.String(), "-")
	return lo.Ternary(name != "", name, "image")
}
