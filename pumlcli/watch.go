package pumlcli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fsnotify/fsnotify"

	"oss.terrastruct.com/util-go/xmain"

	"oss.terrastruct.com/pumlmd/lib/xhttp"
	"oss.terrastruct.com/pumlmd/pumltransform"
)

type watcherOpts struct {
	host       string
	port       string
	inputPath  string
	outputPath string
	opts       pumltransform.Options
}

type watcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ms *xmain.State
	watcherOpts

	compileCh chan struct{}

	fw *fsnotify.Watcher
	l  net.Listener

	wsclientsMu sync.Mutex
	closing     bool
	wsclientsWG sync.WaitGroup
	wsclients   map[*wsclient]struct{}

	errMu sync.Mutex
	err   error

	resMu sync.Mutex
	res   *compileResult
}

type compileResult struct {
	HTML     string `json:"html"`
	Diagrams int    `json:"diagrams"`
	Failed   int    `json:"failed"`
	Err      string `json:"err"`
}

func newWatcher(ctx context.Context, ms *xmain.State, opts watcherOpts) (*watcher, error) {
	w := allocWatcher(ctx, ms, opts)
	err := w.init()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func allocWatcher(ctx context.Context, ms *xmain.State, opts watcherOpts) *watcher {
	ctx, cancel := context.WithCancel(ctx)
	return &watcher{
		ctx:    ctx,
		cancel: cancel,

		ms:          ms,
		watcherOpts: opts,

		compileCh: make(chan struct{}, 1),
		wsclients: make(map[*wsclient]struct{}),
	}
}

// init releases whatever it already acquired when it fails.
func (w *watcher) init() (err error) {
	defer func() {
		if err != nil {
			w.close()
		}
	}()

	w.fw, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	return w.listen()
}

func (w *watcher) run() error {
	defer w.close()

	w.goFunc(w.watchLoop)
	w.goFunc(w.compileLoop)
	w.goServe()

	w.wg.Wait()
	w.close()
	return w.err
}

func (w *watcher) close() {
	w.wsclientsMu.Lock()
	if w.closing {
		w.wsclientsMu.Unlock()
		return
	}
	w.closing = true
	w.wsclientsMu.Unlock()

	w.cancel()
	if w.fw != nil {
		err := w.fw.Close()
		w.setErr(err)
	}
	if w.l != nil {
		err := w.l.Close()
		if !errors.Is(err, net.ErrClosed) {
			w.setErr(err)
		}
	}

	w.wsclientsWG.Wait()
}

func (w *watcher) setErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}

func (w *watcher) goFunc(fn func(context.Context) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.cancel()

		err := fn(w.ctx)
		w.setErr(err)
	}()
}

// watchLoop batches bursts of events on the input file into a single compile.
// Editors commonly emit a chmod, write and chmod for one save.
func (w *watcher) watchLoop(ctx context.Context) error {
	lastModified := make(map[string]time.Time)

	mt, err := w.ensureAddWatch(ctx, w.inputPath)
	if err != nil {
		return err
	}
	lastModified[w.inputPath] = mt
	w.ms.Log.Info.Printf("converting %v...", w.ms.HumanPath(w.inputPath))
	w.requestCompile()

	eatBurstTimer := time.NewTimer(0)
	<-eatBurstTimer.C
	pollTicker := time.NewTicker(time.Second * 10)
	defer pollTicker.Stop()

	changed := make(map[string]struct{})

	for {
		select {
		case <-pollTicker.C:
			// Renames and atomic saves can drop the watch without a usable event.
			missedChanges := false
			for _, watched := range w.fw.WatchList() {
				mt, err := w.ensureAddWatch(ctx, watched)
				if err != nil {
					return err
				}
				if mt2, ok := lastModified[watched]; !ok || !mt.Equal(mt2) {
					missedChanges = true
					lastModified[watched] = mt
				}
			}
			if missedChanges {
				w.requestCompile()
			}
		case ev, ok := <-w.fw.Events:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			w.ms.Log.Debug.Printf("received file system event %v", ev)
			mt, err := w.ensureAddWatch(ctx, ev.Name)
			if err != nil {
				return err
			}
			if ev.Op == fsnotify.Chmod {
				if mt.Equal(lastModified[ev.Name]) {
					// Benign Chmod.
					continue
				}
				lastModified[ev.Name] = mt
			}
			changed[ev.Name] = struct{}{}
			eatBurstTimer.Reset(time.Millisecond * 16)
		case <-eatBurstTimer.C:
			var changedList []string
			for k := range changed {
				changedList = append(changedList, k)
				delete(changed, k)
			}
			if len(changedList) == 0 {
				continue
			}
			sort.Strings(changedList)
			changedStr := w.ms.HumanPath(changedList[0])
			for i := 1; i < len(changedList); i++ {
				changedStr += fmt.Sprintf(", %s", w.ms.HumanPath(changedList[i]))
			}
			w.ms.Log.Info.Printf("detected change in %s: reconverting...", changedStr)
			w.requestCompile()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			w.ms.Log.Error.Printf("fsnotify error: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *watcher) requestCompile() {
	select {
	case w.compileCh <- struct{}{}:
	default:
	}
}

func (w *watcher) ensureAddWatch(ctx context.Context, path string) (time.Time, error) {
	interval := time.Millisecond * 16
	tc := time.NewTimer(0)
	<-tc.C
	for {
		mt, err := w.addWatch(path)
		if err == nil {
			return mt, nil
		}
		if interval >= time.Second {
			w.ms.Log.Error.Printf("failed to watch %q: %v (retrying in %v)", w.ms.HumanPath(path), err, interval)
		}

		tc.Reset(interval)
		select {
		case <-tc.C:
			if interval < time.Second {
				interval = time.Second
			}
			if interval < time.Second*16 {
				interval *= 2
			}
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}
}

func (w *watcher) addWatch(path string) (time.Time, error) {
	err := w.fw.Add(path)
	if err != nil {
		return time.Time{}, err
	}
	d, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return d.ModTime(), nil
}

func (w *watcher) compileLoop(ctx context.Context) error {
	firstCompile := true
	for {
		select {
		case <-w.compileCh:
		case <-ctx.Done():
			return ctx.Err()
		}

		recompiledPrefix := ""
		if !firstCompile {
			recompiledPrefix = "re"
		}

		res := &compileResult{}
		input, err := w.ms.ReadPath(w.inputPath)
		if err == nil {
			var out []byte
			var pres *pumltransform.Result
			out, pres, err = convertBytes(ctx, w.ms, w.opts, w.inputPath, input)
			if err == nil {
				res.HTML = string(out)
				res.Diagrams = len(pres.Outcomes)
				res.Failed = pres.Failed()
				err = writeOutput(w.ms, w.outputPath, out)
			}
		}
		if err != nil {
			err = fmt.Errorf("failed to %sconvert %s: %w", recompiledPrefix, w.ms.HumanPath(w.inputPath), err)
			res.Err = err.Error()
			w.ms.Log.Error.Print(res.Err)
		} else {
			w.ms.Log.Success.Printf("successfully %sconverted %s to %s", recompiledPrefix, w.ms.HumanPath(w.inputPath), w.ms.HumanPath(w.outputPath))
		}
		w.broadcast(res)

		if firstCompile {
			firstCompile = false
			url := fmt.Sprintf("http://%s", w.l.Addr())
			openBrowser(ctx, w.ms, url)
		}
	}
}

func (w *watcher) listen() error {
	l, err := net.Listen("tcp", net.JoinHostPort(w.host, w.port))
	if err != nil {
		return err
	}
	w.l = l
	w.ms.Log.Success.Printf("listening on http://%v", w.l.Addr())
	return nil
}

func (w *watcher) goServe() {
	m := http.NewServeMux()
	m.HandleFunc("/", w.handleRoot)
	m.Handle("/watch", xhttp.HandlerFuncAdapter{Log: w.ms.Log, Func: w.handleWatch})

	s := xhttp.NewServer(w.ms.Log.Warn, xhttp.Log(w.ms.Log, m))
	w.goFunc(func(ctx context.Context) error {
		return xhttp.Serve(ctx, time.Second*30, s, w.l)
	})
}

func (w *watcher) getRes() *compileResult {
	w.resMu.Lock()
	defer w.resMu.Unlock()
	return w.res
}

func (w *watcher) handleRoot(hw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(hw, r)
		return
	}
	hw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(hw, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>%s</title>
	<style>
		#pumlmd-err { color: #b00020; white-space: pre-wrap; font-family: monospace; }
		.plantuml-error { color: #b00020; }
	</style>
	<script>%s</script>
</head>
<body>
	<div id="pumlmd-err" style="display: none"></div>
	<div id="pumlmd-doc"></div>
</body>
</html>`, filepath.Base(w.outputPath), watchJS)
}

const watchJS = `
window.addEventListener("DOMContentLoaded", () => {
	const connect = () => {
		const proto = window.location.protocol === "https:" ? "wss" : "ws";
		const ws = new WebSocket(proto + "://" + window.location.host + "/watch");
		ws.onmessage = (ev) => {
			const msg = JSON.parse(ev.data);
			const errDiv = document.getElementById("pumlmd-err");
			if (msg.err) {
				errDiv.textContent = msg.err;
				errDiv.style.display = "block";
				return;
			}
			errDiv.style.display = "none";
			document.getElementById("pumlmd-doc").innerHTML = msg.html;
		};
		ws.onclose = () => setTimeout(connect, 1000);
	};
	connect();
});
`

func (w *watcher) handleWatch(hw http.ResponseWriter, r *http.Request) error {
	w.wsclientsMu.Lock()
	if w.closing {
		w.wsclientsMu.Unlock()
		return xhttp.Errorf(http.StatusServiceUnavailable, "server shutting down...", "server shutting down...")
	}
	// Register before the upgrade so close waits for this client.
	w.wsclientsWG.Add(1)
	w.wsclientsMu.Unlock()

	c, err := websocket.Accept(hw, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		w.wsclientsWG.Done()
		return err
	}

	go func() {
		defer w.wsclientsWG.Done()
		defer c.Close(websocket.StatusInternalError, "unexpected write loop exit")

		ctx, cancel := context.WithTimeout(w.ctx, time.Hour)
		defer cancel()

		cl := &wsclient{
			w:         w,
			resultsCh: make(chan struct{}, 1),
			c:         c,
		}

		w.wsclientsMu.Lock()
		w.wsclients[cl] = struct{}{}
		w.wsclientsMu.Unlock()
		defer func() {
			w.wsclientsMu.Lock()
			delete(w.wsclients, cl)
			w.wsclientsMu.Unlock()
		}()

		ctx = cl.c.CloseRead(ctx)
		go wsHeartbeat(ctx, cl.c)
		_ = cl.writeLoop(ctx)
	}()
	return nil
}

type wsclient struct {
	w         *watcher
	resultsCh chan struct{}
	c         *websocket.Conn
}

func (cl *wsclient) writeLoop(ctx context.Context) error {
	for {
		res := cl.w.getRes()
		if res != nil {
			err := cl.write(ctx, res)
			if err != nil {
				return err
			}
		}

		select {
		case <-cl.resultsCh:
		case <-ctx.Done():
			cl.c.Close(websocket.StatusGoingAway, "server shutting down...")
			return ctx.Err()
		}
	}
}

func (cl *wsclient) write(ctx context.Context, res *compileResult) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	return wsjson.Write(ctx, cl.c, res)
}

func (w *watcher) broadcast(res *compileResult) {
	w.resMu.Lock()
	w.res = res
	w.resMu.Unlock()

	w.wsclientsMu.Lock()
	defer w.wsclientsMu.Unlock()
	w.ms.Log.Info.Printf("broadcasting update to %d %s", len(w.wsclients), pluralize(len(w.wsclients), "client"))
	for cl := range w.wsclients {
		select {
		case cl.resultsCh <- struct{}{}:
		default:
		}
	}
}

func wsHeartbeat(ctx context.Context, c *websocket.Conn) {
	defer c.Close(websocket.StatusInternalError, "heartbeat failed")

	t := time.NewTimer(0)
	<-t.C
	for {
		err := c.Ping(ctx)
		if err != nil {
			return
		}

		t.Reset(time.Second * 30)
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
