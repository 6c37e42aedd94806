package pumlcli

import (
	"context"
	"net"
	"strconv"
	"testing"

	tassert "github.com/stretchr/testify/assert"

	"oss.terrastruct.com/util-go/assert"
	"oss.terrastruct.com/util-go/cmdlog"
	"oss.terrastruct.com/util-go/xmain"
	"oss.terrastruct.com/util-go/xos"
)

func TestWatcherInitListenFailure(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Success(t, err)
	defer l.Close()

	dir, cleanup := assert.TempDir(t)
	defer cleanup()

	env := xos.NewEnv(nil)
	ms := &xmain.State{
		Name: "pumlmd",
		Log:  cmdlog.NewTB(env, t),
		Env:  env,
		PWD:  dir,
	}
	w := allocWatcher(context.Background(), ms, watcherOpts{
		host: "127.0.0.1",
		port: strconv.Itoa(l.Addr().(*net.TCPAddr).Port),
	})

	err = w.init()
	tassert.Error(t, err)

	tassert.True(t, w.closing)
	tassert.Error(t, w.ctx.Err())
	// The fsnotify watcher is closed and refuses new paths.
	tassert.Error(t, w.fw.Add(dir))
	tassert.Nil(t, w.l)
}
