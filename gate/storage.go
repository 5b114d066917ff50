package gate

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/sessions"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
)

// FileStorage keeps the digest in a local file, for command line clients
type FileStorage struct {
	Path string
}

// DefaultFileStorage stores the digest under the user's config directory
func DefaultFileStorage() (*FileStorage, *pe.PinErr) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, pe.ErrServiceFailure("error locating user config directory").WithCause(err)
	}
	return &FileStorage{Path: filepath.Join(dir, "plakat", "access-hash")}, nil
}

func (fs *FileStorage) Load() (string, *pe.PinErr) {
	b, err := os.ReadFile(fs.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", pe.ErrServiceFailure("error reading stored access digest").WithCause(err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (fs *FileStorage) Store(digest string) *pe.PinErr {
	errMsg := "error saving access digest"
	if err := os.MkdirAll(filepath.Dir(fs.Path), 0o700); err != nil {
		return pe.ErrServiceFailure(errMsg).WithCause(err)
	}
	if err := os.WriteFile(fs.Path, []byte(digest+"\n"), 0o600); err != nil {
		return pe.ErrServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

// SessionStorage keeps the digest in the gorilla session of one request. Store saves the session, so
// the response must not have been written yet.
type SessionStorage struct {
	Sessions sessions.Store
	R        *http.Request
	W        http.ResponseWriter
}

func (ss *SessionStorage) Load() (string, *pe.PinErr) {
	sess, err := ss.Sessions.Get(ss.R, cst.SessionName)
	if err != nil {
		// a cookie we can't decode, e.g. after the session key rotated, counts as no session
		return "", nil
	}
	d, _ := sess.Values[cst.SessionKeyToken].(string)
	return d, nil
}

func (ss *SessionStorage) Store(digest string) *pe.PinErr {
	// Get returns a fresh session alongside a decode error
	sess, _ := ss.Sessions.Get(ss.R, cst.SessionName)
	sess.Values[cst.SessionKeyToken] = digest
	if err := sess.Save(ss.R, ss.W); err != nil {
		return pe.ErrServiceFailure("error saving session").WithCause(err)
	}
	return nil
}

// NewSessionStore creates the cookie store holding gate sessions
func NewSessionStore(key []byte) *sessions.CookieStore {
	s := sessions.NewCookieStore(key)
	s.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return s
}
