package pumlcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/spf13/pflag"

	"oss.terrastruct.com/util-go/xdefer"
	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/pumlmd/lib/log"
	"oss.terrastruct.com/pumlmd/lib/version"
	"oss.terrastruct.com/pumlmd/pumlenc"
	"oss.terrastruct.com/pumlmd/pumllib"
	"oss.terrastruct.com/pumlmd/pumltransform"
	"oss.terrastruct.com/pumlmd/pumlurl"
)

func Run(ctx context.Context, ms *xmain.State) (err error) {
	// Diagram problems are reported through ms.Log. The library logs only show up with --debug.
	ctx = log.With(ctx, slog.Make(sloghuman.Sink(io.Discard)))

	// These should be kept up-to-date with help.go
	// Opts.Defaults panics when an env var outgrows the room left beside the widest
	// flag column (--encoding with $PLANTUML_ENCODING). Keep env names short.
	urlFlag := ms.Opts.String("PLANTUML_URL", "url", "u", pumlurl.DefaultURL, "base address of the PlantUML server the images point at")
	formatFlag := ms.Opts.String("PLANTUML_FORMAT", "format", "f", string(pumlurl.FormatPNG), "image format requested from the server: png or svg")
	darkModeFlag, err := ms.Opts.Bool("PLANTUML_DARK", "dark-mode", "", false, "request dark mode images")
	if err != nil {
		return err
	}
	encodingFlag := ms.Opts.String("PLANTUML_ENCODING", "encoding", "e", string(pumlenc.EncodingDeflate), "diagram payload encoding: deflate or hex")
	strictFlag, err := ms.Opts.Bool("PUMLMD_STRICT", "strict", "", false, "exit with code 1 if any diagram could not be turned into an image")
	if err != nil {
		return err
	}
	watchFlag, err := ms.Opts.Bool("PUMLMD_WATCH", "watch", "w", false, "watch for changes to input and live reload. Use $HOST and $PORT to specify the listening address.\n(default localhost:0, which will open on a randomly available local port).")
	if err != nil {
		return err
	}
	hostFlag := ms.Opts.String("HOST", "host", "h", "localhost", "host listening address when used with watch")
	portFlag := ms.Opts.String("PORT", "port", "p", "0", "port listening address when used with watch")
	browserFlag := ms.Opts.String("BROWSER", "browser", "", "", "browser executable that watch and open launch. Set to '0' to disable.")
	debugFlag, err := ms.Opts.Bool("DEBUG", "debug", "d", false, "print debug logs.")
	if err != nil {
		ms.Log.Warn.Printf("Invalid DEBUG flag value ignored")
		debugFlag = new(bool)
	}
	versionFlag, err := ms.Opts.Bool("", "version", "v", false, "get the version")
	if err != nil {
		return err
	}

	err = ms.Opts.Flags.Parse(ms.Opts.Args)
	if !errors.Is(err, pflag.ErrHelp) && err != nil {
		return xmain.UsageErrorf("failed to parse flags: %v", err)
	}
	if errors.Is(err, pflag.ErrHelp) {
		help(ms)
		return nil
	}

	if *debugFlag {
		ctx = log.With(ctx, slog.Make(sloghuman.Sink(ms.Stderr)).Named("pumlmd").Leveled(slog.LevelDebug))
		ms.Env.Setenv("DEBUG", "1")
	}
	if *browserFlag != "" {
		ms.Env.Setenv("BROWSER", *browserFlag)
	}

	opts, err := options(*urlFlag, *formatFlag, *darkModeFlag, *encodingFlag)
	if err != nil {
		return xmain.UsageErrorf("%v", err)
	}

	if len(ms.Opts.Flags.Args()) > 0 {
		switch ms.Opts.Flags.Arg(0) {
		case "encode":
			return encodeCmd(ctx, ms, opts)
		case "decode":
			return decodeCmd(ctx, ms)
		case "urls":
			return urlsCmd(ctx, ms, opts, *strictFlag)
		case "open":
			return openCmd(ctx, ms, opts)
		case "version":
			if len(ms.Opts.Flags.Args()) > 1 {
				return xmain.UsageErrorf("version subcommand accepts no arguments")
			}
			fmt.Fprintln(ms.Stdout, version.Version)
			return nil
		}
	}

	if len(ms.Opts.Flags.Args()) == 0 {
		if *versionFlag {
			fmt.Fprintln(ms.Stdout, version.Version)
			return nil
		}
		help(ms)
		return nil
	} else if len(ms.Opts.Flags.Args()) >= 3 {
		return xmain.UsageErrorf("too many arguments passed")
	}

	inputPath := ms.Opts.Flags.Arg(0)
	var outputPath string
	if len(ms.Opts.Flags.Args()) >= 2 {
		outputPath = ms.Opts.Flags.Arg(1)
	} else if inputPath == "-" {
		outputPath = "-"
	} else {
		outputPath = renameExt(inputPath, ".html")
	}
	if inputPath != "-" {
		inputPath = ms.AbsPath(inputPath)
	}
	if outputPath != "-" {
		outputPath = ms.AbsPath(outputPath)
		if outputPath == inputPath {
			return xmain.UsageErrorf("output path must differ from the input path %s", ms.HumanPath(inputPath))
		}
	}

	if *watchFlag {
		if inputPath == "-" {
			return xmain.UsageErrorf("-w[atch] cannot be combined with reading input from stdin")
		}
		if outputPath == "-" {
			return xmain.UsageErrorf("-w[atch] cannot be combined with writing output to stdout")
		}
		w, err := newWatcher(ctx, ms, watcherOpts{
			host:       *hostFlag,
			port:       *portFlag,
			inputPath:  inputPath,
			outputPath: outputPath,
			opts:       opts,
		})
		if err != nil {
			return err
		}
		return w.run()
	}

	res, err := convert(ctx, ms, opts, inputPath, outputPath)
	if err != nil {
		return err
	}
	return checkStrict(res, *strictFlag)
}

func options(baseURL, format string, darkMode bool, encoding string) (pumltransform.Options, error) {
	f, err := pumlurl.ParseFormat(format)
	if err != nil {
		return pumltransform.Options{}, fmt.Errorf("-f[ormat]: %w", err)
	}
	enc, err := pumlenc.ParseEncoding(encoding)
	if err != nil {
		return pumltransform.Options{}, fmt.Errorf("-e[ncoding]: %w", err)
	}
	cfg := pumlurl.Config{
		URL:      baseURL,
		Format:   f,
		DarkMode: darkMode,
	}
	// Validate the server address once up front rather than once per diagram.
	if _, err := pumlurl.Build(cfg, ""); err != nil {
		return pumltransform.Options{}, fmt.Errorf("-u[rl]: %w", err)
	}
	return pumltransform.Options{
		Config:  cfg,
		Encoder: enc,
	}, nil
}

func convert(ctx context.Context, ms *xmain.State, opts pumltransform.Options, inputPath, outputPath string) (_ *pumltransform.Result, err error) {
	defer xdefer.Errorf(&err, "failed to convert %s", ms.HumanPath(inputPath))

	input, err := ms.ReadPath(inputPath)
	if err != nil {
		return nil, err
	}

	out, res, err := convertBytes(ctx, ms, opts, inputPath, input)
	if err != nil {
		return nil, err
	}

	err = writeOutput(ms, outputPath, out)
	if err != nil {
		return nil, err
	}
	if outputPath != "-" {
		ms.Log.Success.Printf("successfully converted %s to %s (%d %s)", ms.HumanPath(inputPath), ms.HumanPath(outputPath), len(res.Outcomes), pluralize(len(res.Outcomes), "diagram"))
	}
	return res, nil
}

func convertBytes(ctx context.Context, ms *xmain.State, opts pumltransform.Options, inputPath string, input []byte) ([]byte, *pumltransform.Result, error) {
	out, res, err := pumllib.Convert(ctx, input, opts)
	if err != nil {
		return nil, nil, err
	}
	reportOutcomes(ms, inputPath, res)
	return out, res, nil
}

func writeOutput(ms *xmain.State, outputPath string, out []byte) error {
	if outputPath != "-" {
		err := os.MkdirAll(filepath.Dir(outputPath), 0755)
		if err != nil {
			return err
		}
	}
	return ms.WritePath(outputPath, out)
}

func reportOutcomes(ms *xmain.State, inputPath string, res *pumltransform.Result) {
	for _, o := range res.Outcomes {
		switch {
		case !o.OK():
			ms.Log.Warn.Printf("%s:%d: %v", ms.HumanPath(inputPath), o.Line, o.Err)
		case o.Oversized:
			ms.Log.Warn.Printf("%s:%d: diagram URL is %d bytes, above the %d byte limit most servers accept", ms.HumanPath(inputPath), o.Line, len(o.URL), pumlurl.MaxURLBytes)
		default:
			ms.Log.Debug.Printf("%s:%d: %s", ms.HumanPath(inputPath), o.Line, o.URL)
		}
	}
}

func checkStrict(res *pumltransform.Result, strict bool) error {
	if !strict || res.Failed() == 0 {
		return nil
	}
	return xmain.ExitErrorf(1, "%d of %d %s failed to encode", res.Failed(), len(res.Outcomes), pluralize(len(res.Outcomes), "diagram"))
}

func renameExt(fp string, newExt string) string {
	ext := filepath.Ext(fp)
	if ext == "" {
		return fp + newExt
	}
	return strings.TrimSuffix(fp, ext) + newExt
}

func pluralize(n int, s string) string {
	if n == 1 {
		return s
	}
	return s + "s"
}
