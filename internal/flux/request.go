package flux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

var ErrEmptyPrompt = errors.New("prompt is required")

// Request is a generation request the client can submit. The request value
// itself is marshalled as the JSON body and posted to Endpoint.
type Request interface {
	Endpoint() string
	Validate() error
}

// ProRequest is the body for FLUX 1.1 [pro].
type ProRequest struct {
	Prompt           string `json:"prompt"`
	ImagePrompt      string `json:"image_prompt,omitempty"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
	Seed             *int   `json:"seed,omitempty"`
	SafetyTolerance  int    `json:"safety_tolerance"`
	OutputFormat     string `json:"output_format"`
}

func (ProRequest) Endpoint() string { return "flux-pro-1.1" }

func (r ProRequest) Validate() error {
	if err := validateCommon(r.Prompt, r.SafetyTolerance, r.OutputFormat); err != nil {
		return err
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", r.Width, r.Height)
	}
	return nil
}

// UltraRequest is the body for FLUX 1.1 [pro] ultra.
type UltraRequest struct {
	Prompt              string  `json:"prompt"`
	ImagePrompt         string  `json:"image_prompt,omitempty"`
	AspectRatio         string  `json:"aspect_ratio"`
	Seed                *int    `json:"seed,omitempty"`
	SafetyTolerance     int     `json:"safety_tolerance"`
	OutputFormat        string  `json:"output_format"`
	Raw                 bool    `json:"raw"`
	ImagePromptStrength float64 `json:"image_prompt_strength"`
}

func (UltraRequest) Endpoint() string { return "flux-pro-1.1-ultra" }

func (r UltraRequest) Validate() error {
	if err := validateCommon(r.Prompt, r.SafetyTolerance, r.OutputFormat); err != nil {
		return err
	}
	if !validAspectRatio(r.AspectRatio) {
		return fmt.Errorf("invalid aspect ratio %q", r.AspectRatio)
	}
	if r.ImagePromptStrength < 0 || r.ImagePromptStrength > 1 {
		return fmt.Errorf("image prompt strength %v out of range [0,1]", r.ImagePromptStrength)
	}
	return nil
}

// validAspectRatio accepts "w:h" where both sides are positive integers.
func validAspectRatio(ratio string) bool {
	w, h, ok := strings.Cut(ratio, ":")
	if !ok {
		return false
	}
	wi, werr := strconv.Atoi(w)
	hi, herr := strconv.Atoi(h)
	return werr == nil && herr == nil && wi > 0 && hi > 0
}

func validateCommon(prompt string, tolerance int, format string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	if tolerance < 0 || tolerance > 6 {
		return fmt.Errorf("safety tolerance %d out of range [0,6]", tolerance)
	}
	if format != FormatJPEG && format != FormatPNG {
		return fmt.Errorf("unsupported output format %q", format)
	}
	return nil
}
