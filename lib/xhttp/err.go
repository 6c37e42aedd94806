package xhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"oss.terrastruct.com/util-go/cmdlog"
)

// Error is an error carrying the HTTP status code and response body to write.
type Error struct {
	Code int
	Resp interface{}
	Err  error
}

// Errorf creates an Error. When returned from a HandlerFunc it is logged at the
// level matching code and written to the connection as JSON.
func Errorf(code int, resp interface{}, msg string, v ...interface{}) error {
	if resp == nil {
		resp = http.StatusText(code)
	}
	return Error{Code: code, Resp: resp, Err: fmt.Errorf(msg, v...)}
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e Error) Error() string {
	return fmt.Sprintf("http error with code %v and resp %#v: %v", e.Code, e.Resp, e.Err)
}

// HandlerFunc is like http.HandlerFunc but returns an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// HandlerFuncAdapter adapts a HandlerFunc into an http.Handler.
//
// 400s are logged as warns and everything else as errors. Errors that were not
// created with Errorf are written as a 500.
type HandlerFuncAdapter struct {
	Log  *cmdlog.Logger
	Func HandlerFunc
}

func (a HandlerFuncAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := a.Func(w, r)
	if err != nil {
		handleError(a.Log, w, err)
	}
}

func handleError(clog *cmdlog.Logger, w http.ResponseWriter, err error) {
	var herr Error
	if !errors.As(err, &herr) {
		herr = Error{Code: http.StatusInternalServerError, Err: err}
	}
	if herr.Code < 400 || herr.Code >= 600 {
		clog.Error.Printf("unexpected non error http status code %d with resp: %#v", herr.Code, herr.Resp)
		herr.Code = http.StatusInternalServerError
		herr.Resp = nil
	}
	if herr.Resp == nil {
		herr.Resp = http.StatusText(herr.Code)
	}

	var logger *log.Logger = clog.Error
	if herr.Code < 500 {
		logger = clog.Warn
	}
	logger.Printf("error handling http request: %v", err)

	if ww, ok := w.(interface{ Written() bool }); ok && ww.Written() {
		// The response is already partially written.
		return
	}
	JSON(clog, w, herr.Code, map[string]interface{}{
		"error": herr.Resp,
	})
}

func JSON(clog *cmdlog.Logger, w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		clog.Error.Printf("json marshal error: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
