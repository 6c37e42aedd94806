// Package pumltransform replaces fenced plantuml code blocks in a goldmark AST
// with images served by a PlantUML server.
//
// Every block whose language is plantuml (in any casing) is replaced exactly once,
// in place, by either a paragraph holding a single image or, when the diagram
// could not be turned into a URL, a Diagnostic carrying the error. Failures never
// escape Rewrite and never stop the remaining blocks from being processed.
package pumltransform

import (
	"context"
	"strings"

	"cdr.dev/slog"
	"github.com/yuin/goldmark/ast"
	"go.uber.org/multierr"

	"oss.terrastruct.com/pumlmd/lib/log"
	"oss.terrastruct.com/pumlmd/pumlenc"
	"oss.terrastruct.com/pumlmd/pumlurl"
)

const (
	Language    = "plantuml"
	AltText     = "PlantUML Diagram"
	ErrorPrefix = "Error rendering PlantUML: "
)

// Encoder turns diagram source into a URL safe payload.
type Encoder interface {
	Encode(src string) (string, error)
}

type EncoderFunc func(src string) (string, error)

func (f EncoderFunc) Encode(src string) (string, error) {
	return f(src)
}

type Options struct {
	Config pumlurl.Config
	// Encoder defaults to pumlenc.EncodingDeflate.
	Encoder Encoder
}

// EncodeError is returned when the Encoder rejects a diagram source. Its message
// is the encoder's message unchanged.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Outcome is the result of processing one diagram block. Err is nil on success.
type Outcome struct {
	// Index is the block's position among its parent's children.
	Index int
	// Line is the 1-based source line of the opening fence.
	Line   int
	Source string

	URL       string
	Oversized bool
	Err       error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Message is the text shown in place of a failed diagram.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return ErrorPrefix + o.Err.Error()
}

type Result struct {
	Outcomes []Outcome
}

func (r *Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Err combines the errors of every failed diagram.
func (r *Result) Err() error {
	var err error
	for _, o := range r.Outcomes {
		err = multierr.Append(err, o.Err)
	}
	return err
}

// IsDiagram reports whether n is a fenced code block tagged plantuml.
func IsDiagram(n ast.Node, source []byte) bool {
	cb, ok := n.(*ast.FencedCodeBlock)
	if !ok {
		return false
	}
	return strings.ToLower(string(cb.Language(source))) == Language
}

// Rewrite replaces every plantuml block under root. Blocks without a parent,
// including root itself, are left alone.
func Rewrite(ctx context.Context, root ast.Node, source []byte, opts Options) *Result {
	var blocks []*ast.FencedCodeBlock

	// Collect all blocks to be replaced without modifying the tree.
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || !IsDiagram(n, source) {
			return ast.WalkContinue, nil
		}
		blocks = append(blocks, n.(*ast.FencedCodeBlock))
		return ast.WalkSkipChildren, nil
	})

	res := &Result{}
	for _, cb := range blocks {
		parent := cb.Parent()
		if parent == nil {
			log.Debug(ctx, "skipping plantuml block without a parent")
			continue
		}
		idx := indexOf(parent, cb)
		if idx < 0 {
			log.Debug(ctx, "skipping plantuml block missing from its parent")
			continue
		}

		o := process(ctx, blockSource(cb, source), opts)
		o.Index = idx
		o.Line = blockLine(cb, source)
		parent.ReplaceChild(parent, cb, replacement(o))

		if o.OK() {
			log.Debug(ctx, "replaced plantuml block", slog.F("line", o.Line), slog.F("url", o.URL))
		} else {
			log.Debug(ctx, "plantuml block failed", slog.F("line", o.Line), slog.Error(o.Err))
		}
		res.Outcomes = append(res.Outcomes, o)
	}
	return res
}

func process(ctx context.Context, src string, opts Options) Outcome {
	o := Outcome{Source: src}

	enc := opts.Encoder
	if enc == nil {
		enc = pumlenc.EncodingDeflate
	}
	payload, err := enc.Encode(src)
	if err != nil {
		o.Err = &EncodeError{Err: err}
		return o
	}

	u, err := pumlurl.Build(opts.Config, payload)
	if err != nil {
		o.Err = err
		return o
	}
	o.URL = u.String()

	if pumlurl.Oversized(o.URL) {
		o.Oversized = true
		log.Warn(ctx, "plantuml URL exceeds the recommended size, the server or browser may reject it",
			slog.F("bytes", len(o.URL)),
			slog.F("limit", pumlurl.MaxURLBytes),
		)
	}
	return o
}

func replacement(o Outcome) ast.Node {
	if !o.OK() {
		return NewDiagnostic(o.Message())
	}

	link := ast.NewLink()
	link.Destination = []byte(o.URL)
	img := ast.NewImage(link)
	img.AppendChild(img, ast.NewString([]byte(AltText)))

	p := ast.NewParagraph()
	p.AppendChild(p, img)
	return p
}

// blockSource drops the final newline goldmark keeps on the last line.
func blockSource(cb *ast.FencedCodeBlock, source []byte) string {
	var b strings.Builder
	lines := cb.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(source))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func blockLine(cb *ast.FencedCodeBlock, source []byte) int {
	start := -1
	if cb.Info != nil {
		start = cb.Info.Segment.Start
	} else if cb.Lines().Len() > 0 {
		start = cb.Lines().At(0).Start
	}
	if start < 0 || start > len(source) {
		return 0
	}
	return strings.Count(string(source[:start]), "\n") + 1
}

func indexOf(parent, child ast.Node) int {
	i := 0
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if c == child {
			return i
		}
		i++
	}
	return -1
}
