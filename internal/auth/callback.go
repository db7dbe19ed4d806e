package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Callback is what the browser brings back to the redirect URL.
type Callback struct {
	Code  string
	State string
}

// WaitForCallback serves ln until the first request carrying a code or an
// error arrives, or ctx is done.
func WaitForCallback(ctx context.Context, ln net.Listener) (Callback, error) {
	type result struct {
		cb  Callback
		err error
	}
	done := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res result
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("authorization denied: %s", q.Get("error"))
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
		case q.Get("code") != "":
			res.cb = Callback{Code: q.Get("code"), State: q.Get("state")}
			fmt.Fprintln(w, "Signed in. You can close this window.")
		default:
			http.NotFound(w, r)
			return
		}
		select {
		case done <- res:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case done <- result{err: fmt.Errorf("serve callback: %w", err)}:
			default:
			}
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case res := <-done:
		return res.cb, res.err
	case <-ctx.Done():
		return Callback{}, ctx.Err()
	}
}
