package page

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"sync"

	"github.com/dmorgan81/fluxlab/internal/log"
)

//go:embed assets/image.html
var imageTmpl string

const ContentType = "text/html; charset=utf-8"

// Params fill the page shown next to each delivered image.
type Params struct {
	Image  string
	Model  string
	Prompt string
	Seed   string
	User   string
}

type Templator struct {
	tmpl *template.Template
	once sync.Once
}

func (g *Templator) Template(ctx context.Context, params Params) ([]byte, error) {
	g.once.Do(func() {
		g.tmpl = template.Must(template.New("image").Parse(imageTmpl))
	})

	log := log.FromContextOrDiscard(ctx).WithGroup("templator").With("image", params.Image)
	log.Info("generating page")

	var data bytes.Buffer
	if err := g.tmpl.Execute(&data, params); err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}
