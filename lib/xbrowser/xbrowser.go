// Package xbrowser opens diagram and preview URLs in the user's browser.
package xbrowser

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/pkg/browser"

	"oss.terrastruct.com/util-go/xos"

	"oss.terrastruct.com/pumlmd/lib/env"
)

// Open opens url with $BROWSER when set, otherwise with the platform default.
// $BROWSER=0 disables opening entirely and so does TEST_MODE.
func Open(ctx context.Context, xenv *xos.Env, url string) error {
	browserEnv := xenv.Getenv("BROWSER")
	if env.BrowserDisabled(browserEnv) || env.Test() {
		return nil
	}
	if browserEnv != "" {
		cmd := exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("%s \"$1\"", browserEnv), "--", url)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("failed to run %v (out: %q): %w", cmd.Args, out, err)
		}
		return nil
	}
	return browser.OpenURL(url)
}
