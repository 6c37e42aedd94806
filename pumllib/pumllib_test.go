package pumllib_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	tassert "github.com/stretchr/testify/assert"

	"oss.terrastruct.com/util-go/assert"

	"oss.terrastruct.com/pumlmd/lib/log"
	"oss.terrastruct.com/pumlmd/pumlenc"
	"oss.terrastruct.com/pumlmd/pumllib"
	"oss.terrastruct.com/pumlmd/pumltransform"
	"oss.terrastruct.com/pumlmd/pumlurl"
)

const sequence = `@startuml
Bob -> Alice : hello
@enduml`

func TestConvert(t *testing.T) {
	t.Parallel()

	tca := []struct {
		name string
		cfg  pumlurl.Config
		path string
	}{
		{
			name: "basic_png",
			cfg:  pumlurl.Config{Format: pumlurl.FormatPNG},
			path: "/plantuml/png/",
		},
		{
			name: "basic_svg",
			cfg:  pumlurl.Config{Format: pumlurl.FormatSVG},
			path: "/plantuml/svg/",
		},
		{
			name: "dark_png",
			cfg:  pumlurl.Config{Format: pumlurl.FormatPNG, DarkMode: true},
			path: "/plantuml/dpng/",
		},
		{
			name: "dark_svg",
			cfg:  pumlurl.Config{Format: pumlurl.FormatSVG, DarkMode: true},
			path: "/plantuml/dsvg/",
		},
	}

	for _, tc := range tca {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			md := "# Diagram\n\nSome text.\n\n```plantuml\n" + sequence + "\n```\n\n```go\nfmt.Println(1)\n```\n"
			out, res, err := pumllib.Convert(testContext(t), []byte(md), pumltransform.Options{Config: tc.cfg})
			assert.Success(t, err)
			assert.Equal(t, 1, len(res.Outcomes))

			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(out))
			assert.Success(t, err)

			imgs := doc.Find("p > img")
			assert.Equal(t, 1, imgs.Length())
			src, _ := imgs.Attr("src")
			assert.String(t, "https://www.plantuml.com"+tc.path+mustEncode(t, sequence), src)
			alt, _ := imgs.Attr("alt")
			assert.String(t, pumltransform.AltText, alt)

			assert.String(t, "Diagram", doc.Find("h1").Text())
			assert.String(t, "fmt.Println(1)\n", doc.Find("pre > code").Text())
			assert.Equal(t, 0, doc.Find(".plantuml-error").Length())
		})
	}
}

func TestConvertExactHTML(t *testing.T) {
	t.Parallel()

	out, _, err := pumllib.Convert(testContext(t), []byte("# Title\n\n```plantuml\nA->B\n```\n"), pumltransform.Options{})
	assert.Success(t, err)
	assert.String(t, `<h1>Title</h1>
<p><img src="https://www.plantuml.com/plantuml/png/`+mustEncode(t, "A->B")+`" alt="PlantUML Diagram" /></p>
`, string(out))
}

func TestConvertDiagnostic(t *testing.T) {
	t.Parallel()

	opts := pumltransform.Options{
		Encoder: pumltransform.EncoderFunc(func(src string) (string, error) {
			return "", errors.New("cannot encode <" + src + ">")
		}),
	}
	out, res, err := pumllib.Convert(testContext(t), []byte("intro\n\n```plantuml\nA->B\n```\n"), opts)
	assert.Success(t, err)
	assert.String(t, `<p>intro</p>
<pre class="plantuml-error">Error rendering PlantUML: cannot encode &lt;A-&gt;B&gt;</pre>
`, string(out))
	assert.Equal(t, 1, res.Failed())
}

func TestDiagrams(t *testing.T) {
	t.Parallel()

	md := "```plantuml\nA->B\n```\n\ntext\n\n```PLANTUML\nC->D\n```\n\n```plantuml\n\xff\n```\n"
	res := pumllib.Diagrams(testContext(t), []byte(md), pumltransform.Options{Encoder: pumlenc.EncodingHex})

	assert.Equal(t, 3, len(res.Outcomes))
	assert.String(t, "https://www.plantuml.com/plantuml/png/~h412d3e42", res.Outcomes[0].URL)
	assert.Equal(t, 1, res.Outcomes[0].Line)
	assert.String(t, "https://www.plantuml.com/plantuml/png/~h432d3e44", res.Outcomes[1].URL)
	assert.Equal(t, 7, res.Outcomes[1].Line)
	tassert.False(t, res.Outcomes[2].OK())
	tassert.True(t, strings.HasPrefix(res.Outcomes[2].Message(), "Error rendering PlantUML: "))
}

func TestDiagramsNone(t *testing.T) {
	t.Parallel()

	res := pumllib.Diagrams(context.Background(), []byte("# nothing here\n"), pumltransform.Options{})
	assert.Equal(t, 0, len(res.Outcomes))
	assert.Success(t, res.Err())
}

func testContext(t *testing.T) context.Context {
	return log.WithTB(context.Background(), t, nil)
}

func mustEncode(t *testing.T, src string) string {
	t.Helper()
	encoded, err := pumlenc.Encode(src)
	assert.Success(t, err)
	return encoded
}
