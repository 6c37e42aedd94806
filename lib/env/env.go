// Package env reads the process-wide switches shared by the library and the CLI.
package env

import (
	"os"
)

// Test reports whether we are running under tests. The CLI never opens a browser
// in test mode.
func Test() bool {
	return os.Getenv("TEST_MODE") != ""
}

func Debug() bool {
	return os.Getenv("DEBUG") != ""
}

// BrowserDisabled reports whether $BROWSER asks for no browser at all.
func BrowserDisabled(browser string) bool {
	return browser == "0" || browser == "false"
}
