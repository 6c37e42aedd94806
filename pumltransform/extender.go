package pumltransform

import (
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"oss.terrastruct.com/pumlmd/lib/log"
)

var (
	logContextKey = parser.NewContextKey()
	resultKey     = parser.NewContextKey()
)

// WithContext stores ctx in pc so the transformer logs through ctx's logger.
func WithContext(pc parser.Context, ctx context.Context) parser.Context {
	pc.Set(logContextKey, ctx)
	return pc
}

// ResultFrom returns the Result the transformer left in pc, or nil when the
// document was not parsed with pc.
func ResultFrom(pc parser.Context) *Result {
	res, _ := pc.Get(resultKey).(*Result)
	return res
}

// Extender is a goldmark extension rewriting plantuml blocks into images.
type Extender struct {
	Options Options
}

func (e *Extender) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(&Transformer{Options: e.Options}, 100),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&HTMLRenderer{}, 100),
	))
}

type Transformer struct {
	Options Options
}

func (t *Transformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	ctx, ok := pc.Get(logContextKey).(context.Context)
	if !ok {
		ctx = log.WithDefault(context.Background())
	}
	pc.Set(resultKey, Rewrite(ctx, doc, reader.Source(), t.Options))
}

// HTMLRenderer renders Diagnostic nodes as preformatted text.
type HTMLRenderer struct {
}

func (r *HTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindDiagnostic, r.renderDiagnostic)
}

func (r *HTMLRenderer) renderDiagnostic(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*Diagnostic)
	_, _ = w.WriteString(`<pre class="plantuml-error">`)
	_, _ = w.Write(util.EscapeHTML([]byte(n.Message)))
	_, _ = w.WriteString("</pre>\n")
	return ast.WalkSkipChildren, nil
}
