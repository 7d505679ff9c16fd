package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmorgan81/fluxlab/internal/config"
	"github.com/dmorgan81/fluxlab/internal/handler"
	"github.com/dmorgan81/fluxlab/internal/inject"
	"github.com/dmorgan81/fluxlab/internal/log"
	"github.com/joho/godotenv"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// loadEnv loads dotenv files that exist; variables already set win.
func loadEnv(files []string) {
	existing := lo.Filter(files, func(f string, _ int) bool {
		_, err := os.Stat(f)
		return err == nil
	})
	if len(existing) > 0 {
		_ = godotenv.Load(existing...)
	}
}

type commonOptions struct {
	user            string
	imagePrompt     string
	seed            int
	safetyTolerance int
	format          string
}

func (o *commonOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.user, "user", os.Getenv("USER"), "who asked for the image, stored with it")
	f.StringVar(&o.imagePrompt, "image-prompt", "", "reference image URL or base64 string")
	f.IntVar(&o.seed, "seed", 0, "seed for reproducible output")
	f.IntVar(&o.safetyTolerance, "safety-tolerance", 6, "moderation tolerance, 0 (strict) to 6")
	f.StringVar(&o.format, "format", "jpeg", "output format, jpeg or png")
}

func (o *commonOptions) input(cmd *cobra.Command, command string, args []string) handler.Input {
	in := handler.Input{
		Command:         command,
		User:            o.user,
		Prompt:          strings.Join(args, " "),
		ImagePrompt:     o.imagePrompt,
		SafetyTolerance: lo.ToPtr(o.safetyTolerance),
		OutputFormat:    o.format,
	}
	if cmd.Flags().Changed("seed") {
		in.Seed = lo.ToPtr(o.seed)
	}
	return in
}

func newFluxCmd() *cobra.Command {
	var (
		opts              commonOptions
		width, height     int
		promptImprovement bool
	)
	cmd := &cobra.Command{
		Use:   "flux PROMPT...",
		Short: "Create an image using FLUX 1.1 [pro]",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := opts.input(cmd, handler.CommandFlux, args)
			in.Width = lo.ToPtr(width)
			in.Height = lo.ToPtr(height)
			in.PromptImprovement = lo.ToPtr(promptImprovement)
			return run(cmd, in)
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVar(&width, "width", 1024, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 768, "image height in pixels")
	cmd.Flags().BoolVar(&promptImprovement, "prompt-improvement", true, "let the service upsample the prompt")
	return cmd
}

func newUltraCmd() *cobra.Command {
	var (
		opts        commonOptions
		aspectRatio string
		raw         bool
		strength    float64
	)
	cmd := &cobra.Command{
		Use:     "ultra PROMPT...",
		Aliases: []string{handler.CommandUltra},
		Short:   "Create an image using FLUX 1.1 [pro] ultra",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := opts.input(cmd, handler.CommandUltra, args)
			in.AspectRatio = aspectRatio
			in.Raw = raw
			in.ImagePromptStrength = lo.ToPtr(strength)
			return run(cmd, in)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", "1:1", "aspect ratio such as 16:9")
	cmd.Flags().BoolVar(&raw, "raw", false, "less processed, more natural looking output")
	cmd.Flags().Float64Var(&strength, "image-prompt-strength", 0.1, "blend between prompt and image prompt, 0 to 1")
	return cmd
}

func newFeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Rebuild the gallery RSS feed in the configured bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, handler.Input{Command: handler.CommandFeed})
		},
	}
}

func run(cmd *cobra.Command, in handler.Input) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := log.NewContext(cmd.Context(), log.New(cmd.ErrOrStderr(), log.ParseLevel(cfg.LogLevel)))
	injector := inject.Setup(ctx, cfg)
	defer func() { _ = injector.Shutdown() }()

	h, err := do.Invoke[*handler.Handler](injector)
	if err != nil {
		return fmt.Errorf("setting up: %w", err)
	}

	out, err := h.Handle(ctx, in)
	if err != nil {
		return err
	}
	if err := printOutput(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if out.Failed() {
		return errors.New(out.Message)
	}
	return nil
}

func printOutput(w io.Writer, out handler.Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
