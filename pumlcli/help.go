package pumlcli

import (
	"fmt"
	"path/filepath"

	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/pumlmd/lib/version"
)

func help(ms *xmain.State) {
	fmt.Fprintf(ms.Stdout, `%[1]s %[2]s
Usage:
  %[1]s [--watch=false] [--format=png] [--dark-mode] file.md [file.html]
  %[1]s encode file.puml
  %[1]s decode payload
  %[1]s urls file.md
  %[1]s open file.puml

%[1]s renders file.md to file.html, replacing every plantuml code block with an
image served by the PlantUML server at --url.
It defaults to file.html if an output path is not provided.

Use - to have %[1]s read from stdin or write to stdout.

Flags:
%[3]s

Subcommands:
  %[1]s encode file.puml - Prints the URL payload of a PlantUML source file
  %[1]s decode payload - Prints the PlantUML source of a payload or a full diagram URL
  %[1]s urls file.md - Prints the line and image URL of every plantuml block in file.md
  %[1]s open file.puml - Opens the rendered diagram in the browser
  %[1]s version - Prints the version

See https://plantuml.com/text-encoding for the payload format.
`, filepath.Base(ms.Name), version.Version, ms.Opts.Defaults())
}
