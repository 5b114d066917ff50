package gate

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/sessions"
	hr "github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"wuyrush.io/plakat/common/logging"
	mw "wuyrush.io/plakat/common/middleware"
	cst "wuyrush.io/plakat/constants"
)

const (
	PathUnlock = "/unlock"
	// requests under this prefix are answered with 401 instead of a redirect to the unlock page
	apiPathPrefix = "/api/"
)

//go:embed templates/unlock.html
var templates embed.FS

type unlockView struct {
	Next string
	Err  string
}

// Handler gates HTTP requests behind the passphrase
type Handler struct {
	Reference string
	Sessions  sessions.Store
	tmpl      *template.Template
}

func NewHandler(reference string, store sessions.Store) *Handler {
	clog := logging.WithFuncName()
	tmpl, err := template.ParseFS(templates, "templates/unlock.html")
	if err != nil {
		// fail early since the template is embedded
		clog.WithError(err).Fatal("unlock template not loaded")
	}
	return &Handler{Reference: reference, Sessions: store, tmpl: tmpl}
}

// Enabled reports whether a reference digest is configured
func (h *Handler) Enabled() bool {
	return normalizeDigest(h.Reference) != ""
}

// gate returns the gate as seen by request r
func (h *Handler) gate(w http.ResponseWriter, r *http.Request) *Gate {
	return New(h.Reference, &SessionStorage{Sessions: h.Sessions, R: r, W: w})
}

// Middleware lets requests pass whose session holds the reference digest or which carry it in the
// X-Plakat-Access header.
func (h *Handler) Middleware() mw.Middleware {
	return func(next hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			g := h.gate(w, r)
			if g.Unlocked() || g.Matches(r.Header.Get(cst.HeaderAccess)) {
				next(w, r, p)
				return
			}
			if strings.HasPrefix(r.URL.Path, apiPathPrefix) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"message": "locked"})
				return
			}
			http.Redirect(w, r, PathUnlock+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
		}
	}
}

// HandleGetUnlockPage renders the passphrase form
func (h *Handler) HandleGetUnlockPage() hr.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodGet)
	return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		next := safeNext(r.URL.Query().Get("next"))
		if h.gate(w, r).Unlocked() {
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
		h.render(w, http.StatusOK, unlockView{Next: next}, clog)
	}
}

// HandlePostUnlock checks the submitted passphrase and remembers a match in the session
func (h *Handler) HandlePostUnlock() hr.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		next := safeNext(r.PostFormValue("next"))
		g := h.gate(w, r)
		if err := g.Unlock(r.PostFormValue("passphrase")); err != nil {
			clog.Info("rejected unlock attempt")
			h.render(w, err.StatusCode(), unlockView{Next: next, Err: err.Error()}, clog)
			return
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}

func (h *Handler) render(w http.ResponseWriter, status int, v unlockView, clog *logrus.Entry) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.tmpl.Execute(w, v); err != nil {
		clog.WithError(err).Error("error executing html template")
	}
}

// safeNext only allows redirects to local paths
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
