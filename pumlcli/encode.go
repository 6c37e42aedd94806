package pumlcli

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/pumlmd/lib/xbrowser"
	"oss.terrastruct.com/pumlmd/pumlenc"
	"oss.terrastruct.com/pumlmd/pumllib"
	"oss.terrastruct.com/pumlmd/pumltransform"
	"oss.terrastruct.com/pumlmd/pumlurl"
)

func encodeCmd(ctx context.Context, ms *xmain.State, opts pumltransform.Options) error {
	src, err := readArg(ms, "encode")
	if err != nil {
		return err
	}
	payload, err := opts.Encoder.Encode(src)
	if err != nil {
		return xmain.ExitErrorf(1, "%v", err)
	}
	fmt.Fprintln(ms.Stdout, payload)
	return nil
}

func decodeCmd(ctx context.Context, ms *xmain.State) error {
	if len(ms.Opts.Flags.Args()) != 2 {
		return xmain.UsageErrorf("decode must be passed one argument: an encoded payload or a diagram URL")
	}
	payload := payloadOf(ms.Opts.Flags.Arg(1))

	src, err := pumlenc.Decode(payload)
	if err != nil {
		return xmain.ExitErrorf(1, "%v", err)
	}
	fmt.Fprint(ms.Stdout, src)
	if !strings.HasSuffix(src, "\n") {
		fmt.Fprintln(ms.Stdout)
	}
	return nil
}

// payloadOf returns the last path segment of arg when arg is a diagram URL.
func payloadOf(arg string) string {
	u, err := url.Parse(arg)
	if err != nil || !u.IsAbs() {
		return arg
	}
	return path.Base(u.Path)
}

func urlsCmd(ctx context.Context, ms *xmain.State, opts pumltransform.Options, strict bool) error {
	if len(ms.Opts.Flags.Args()) != 2 {
		return xmain.UsageErrorf("urls must be passed one argument: either a filepath or '-' for stdin")
	}
	inputPath := ms.Opts.Flags.Arg(1)
	if inputPath != "-" {
		inputPath = ms.AbsPath(inputPath)
	}

	input, err := ms.ReadPath(inputPath)
	if err != nil {
		return err
	}

	res := pumllib.Diagrams(ctx, input, opts)
	for _, o := range res.Outcomes {
		if !o.OK() {
			ms.Log.Error.Printf("%s:%d: %v", ms.HumanPath(inputPath), o.Line, o.Err)
			continue
		}
		if o.Oversized {
			ms.Log.Warn.Printf("%s:%d: diagram URL is %d bytes, above the %d byte limit most servers accept", ms.HumanPath(inputPath), o.Line, len(o.URL), pumlurl.MaxURLBytes)
		}
		fmt.Fprintf(ms.Stdout, "%d\t%s\n", o.Line, o.URL)
	}
	return checkStrict(res, strict)
}

func openCmd(ctx context.Context, ms *xmain.State, opts pumltransform.Options) error {
	src, err := readArg(ms, "open")
	if err != nil {
		return err
	}
	payload, err := opts.Encoder.Encode(src)
	if err != nil {
		return xmain.ExitErrorf(1, "%v", err)
	}
	u, err := pumlurl.Build(opts.Config, payload)
	if err != nil {
		return xmain.ExitErrorf(1, "%v", err)
	}
	openBrowser(ctx, ms, u.String())
	return nil
}

// readArg reads the PlantUML source named by the single argument of subcommand.
func readArg(ms *xmain.State, subcommand string) (string, error) {
	if len(ms.Opts.Flags.Args()) != 2 {
		return "", xmain.UsageErrorf("%s must be passed one argument: either a filepath or '-' for stdin", subcommand)
	}
	fp := ms.Opts.Flags.Arg(1)
	if fp != "-" {
		fp = ms.AbsPath(fp)
	}
	b, err := ms.ReadPath(fp)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(b), "\n"), nil
}

func openBrowser(ctx context.Context, ms *xmain.State, url string) {
	ms.Log.Info.Printf("opening %s", url)

	err := xbrowser.Open(ctx, ms.Env, url)
	if err != nil {
		ms.Log.Warn.Printf("failed to open browser to %v: %v", url, err)
	}
}
