package middleware

import (
	"net/http"

	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// PanicRecoverer recovers from panic of underlying handlers and answers 500 if nothing was written yet
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			sw := newStatusWriter(w)
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(log.Fields{
						"panicReason": rec,
						"path":        r.URL.Path,
					}).Error("got panic from underlying handler")
					if !sw.wroteHeader {
						http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}
			}()
			h(sw, r, p)
		}
	}
}

// ServerHeader sets the Server response header
func ServerHeader(name string) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			w.Header().Set("Server", name)
			h(w, r, p)
		}
	}
}

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares; the last middleware is the outermost
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}
