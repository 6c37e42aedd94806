package pumltransform

import (
	"github.com/yuin/goldmark/ast"
)

var KindDiagnostic = ast.NewNodeKind("PlantUMLDiagnostic")

// Diagnostic replaces a plantuml block that could not be turned into an image.
type Diagnostic struct {
	ast.BaseBlock
	Message string
}

func NewDiagnostic(msg string) *Diagnostic {
	return &Diagnostic{Message: msg}
}

func (n *Diagnostic) Kind() ast.NodeKind {
	return KindDiagnostic
}

func (n *Diagnostic) IsRaw() bool {
	return true
}

func (n *Diagnostic) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Message": n.Message,
	}, nil)
}
