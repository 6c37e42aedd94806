// Package pumllib converts Markdown documents with embedded PlantUML diagrams to HTML.
package pumllib

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"oss.terrastruct.com/util-go/xdefer"

	"oss.terrastruct.com/pumlmd/lib/log"
	"oss.terrastruct.com/pumlmd/pumltransform"
)

// New returns a GitHub flavored Markdown converter that turns plantuml blocks into images.
func New(opts pumltransform.Options) goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			&pumltransform.Extender{Options: opts},
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)
}

// Convert renders src to HTML.
func Convert(ctx context.Context, src []byte, opts pumltransform.Options) (_ []byte, _ *pumltransform.Result, err error) {
	defer xdefer.Errorf(&err, "failed to convert markdown")

	pc := pumltransform.WithContext(parser.NewContext(), log.WithDefault(ctx))
	var b bytes.Buffer
	if err := New(opts).Convert(src, &b, parser.WithContext(pc)); err != nil {
		return nil, nil, err
	}
	return b.Bytes(), resultFrom(pc), nil
}

// Diagrams parses src and reports the outcome of every plantuml block without
// rendering anything.
func Diagrams(ctx context.Context, src []byte, opts pumltransform.Options) *pumltransform.Result {
	pc := pumltransform.WithContext(parser.NewContext(), log.WithDefault(ctx))
	New(opts).Parser().Parse(text.NewReader(src), parser.WithContext(pc))
	return resultFrom(pc)
}

func resultFrom(pc parser.Context) *pumltransform.Result {
	if res := pumltransform.ResultFrom(pc); res != nil {
		return res
	}
	return &pumltransform.Result{}
}
