// Package xhttp implements the http helpers behind the watch mode preview server.
package xhttp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"golang.org/x/text/message"

	"oss.terrastruct.com/util-go/cmdlog"
)

func NewServer(log *log.Logger, h http.Handler) *http.Server {
	return &http.Server{
		MaxHeaderBytes: 1 << 18,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		IdleTimeout:    time.Hour,
		ErrorLog:       log,
		Handler:        http.MaxBytesHandler(h, 1<<20),
	}
}

// Serve serves on l until ctx is canceled and then shuts s down, waiting at most
// shutdownTimeout for in flight requests.
func Serve(ctx context.Context, shutdownTimeout time.Duration, s *http.Server, l net.Listener) error {
	s.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(l)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(ctx)
	}
}

type responseWriter struct {
	rw http.ResponseWriter

	written bool
	status  int
	length  int
}

func (rw *responseWriter) Header() http.Header {
	return rw.rw.Header()
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.written = true
		rw.status = statusCode
	}
	rw.rw.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	if !rw.written && len(p) > 0 {
		rw.written = true
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
	}
	rw.length += len(p)
	return rw.rw.Write(p)
}

// Hijack is required for the websocket upgrade of the watch endpoint.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.rw.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying response writer does not implement http.Hijacker: %T", rw.rw)
	}
	return hj.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.rw.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Written() bool {
	return rw.written
}

// Log logs every request with its status, size and duration and turns panics into 500s.
func Log(clog *cmdlog.Logger, next http.Handler) http.Handler {
	englishPrinter := message.NewPrinter(message.MatchLanguage("en"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec != nil {
				clog.Error.Printf("caught panic: %#v\n%s", rec, debug.Stack())
				JSON(clog, w, http.StatusInternalServerError, map[string]interface{}{
					"error": http.StatusText(http.StatusInternalServerError),
				})
			}
		}()

		rw := &responseWriter{
			rw: w,
		}

		start := time.Now()
		next.ServeHTTP(rw, r)
		dur := time.Since(start)

		if !rw.Written() {
			_, err := rw.Write(nil)
			if errors.Is(err, http.ErrHijacked) {
				clog.Success.Printf("%s %s %v: hijacked", r.Method, r.URL, dur)
				return
			}
			clog.Warn.Printf("%s %s %v: no response written", r.Method, r.URL, dur)
			return
		}

		statusLogger := clog.Success
		switch {
		case 300 <= rw.status && rw.status <= 399:
			statusLogger = clog.Info
		case 400 <= rw.status && rw.status <= 499:
			statusLogger = clog.Warn
		case 500 <= rw.status:
			statusLogger = clog.Error
		}
		statusLogger.Printf("%s %s %d %sB %v", r.Method, r.URL, rw.status, englishPrinter.Sprint(rw.length), dur)
	})
}
