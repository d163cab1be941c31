package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Recover turns a handler panic into a 500 with a JSON body, matching the
// error shape of every other response. http.ErrAbortHandler is re-raised so
// net/http can abort the connection as usual.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			slog.Error("Recovered from panic",
				"panic", rec,
				"request_id", chiMiddleware.GetReqID(r.Context()),
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			if r.Header.Get("Connection") != "Upgrade" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
