package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 JSON error. The error body is
// skipped when the handler already sent headers, and http.ErrAbortHandler
// is re-raised so the server drops the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			zerolog.Ctx(r.Context()).Error().
				Err(fmt.Errorf("panic: %v", rec)).
				Str("stack", string(debug.Stack())).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Msg("handler panicked")

			if ww.Status() == 0 {
				writeError(ww, http.StatusInternalServerError, "internal server error", false)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}
