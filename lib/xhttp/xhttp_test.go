package xhttp_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"oss.terrastruct.com/util-go/assert"
	"oss.terrastruct.com/util-go/cmdlog"
	"oss.terrastruct.com/util-go/xos"

	"oss.terrastruct.com/pumlmd/lib/xhttp"
)

func TestHandlerFuncAdapter(t *testing.T) {
	t.Parallel()

	tca := []struct {
		name    string
		err     error
		expCode int
		expBody string
	}{
		{
			name:    "typed",
			err:     xhttp.Errorf(http.StatusServiceUnavailable, "server shutting down...", "closing"),
			expCode: http.StatusServiceUnavailable,
			expBody: `{"error":"server shutting down..."}`,
		},
		{
			name:    "default_resp",
			err:     xhttp.Errorf(http.StatusNotFound, nil, "missing"),
			expCode: http.StatusNotFound,
			expBody: `{"error":"Not Found"}`,
		},
		{
			name:    "untyped",
			err:     errors.New("boom"),
			expCode: http.StatusInternalServerError,
			expBody: `{"error":"Internal Server Error"}`,
		},
	}

	for _, tc := range tca {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := xhttp.HandlerFuncAdapter{
				Log: cmdlog.NewTB(xos.NewEnv(nil), t),
				Func: func(w http.ResponseWriter, r *http.Request) error {
					return tc.err
				},
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/watch", nil))

			assert.Equal(t, tc.expCode, rec.Code)
			assert.String(t, tc.expBody, rec.Body.String())
			assert.String(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestLogRecoversPanics(t *testing.T) {
	t.Parallel()

	h := xhttp.Log(cmdlog.NewTB(xos.NewEnv(nil), t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("the sky is falling")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.String(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}

func TestLogPassesThrough(t *testing.T) {
	t.Parallel()

	h := xhttp.Log(cmdlog.NewTB(xos.NewEnv(nil), t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.String(t, "short and stout", rec.Body.String())
}
