// Package client vends access to a plakat server over HTTP, including its live change stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
	md "wuyrush.io/plakat/models"
	st "wuyrush.io/plakat/stores"
	"wuyrush.io/plakat/versionwatch"
)

const (
	pathPins       = "/api/pins"
	pathPinStream  = "/api/pins/stream"
	pathVersion    = "/version.json"
	errMsgNoServer = "The plakat server could not be reached."
)

// Client talks to the plakat server at BaseURL. Digest, when set, is sent as access header to pass the
// server's gate.
type Client struct {
	BaseURL string
	Digest  string
	HTTP    *http.Client
	Dialer  *websocket.Dialer
}

func New(baseURL, digest string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Digest:  digest,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Dialer:  websocket.DefaultDialer,
	}
}

func (c *Client) List(ctx context.Context) ([]md.Pin, *pe.PinErr) {
	var ps []md.Pin
	if _, err := c.do(ctx, http.MethodGet, pathPins, nil, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (c *Client) Create(ctx context.Context, in md.PinInput) (*md.Pin, *pe.PinErr) {
	var p md.Pin
	if _, err := c.do(ctx, http.MethodPost, pathPins, in, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Remove deletes the pin with given id; it reports false when the server knows no such pin
func (c *Client) Remove(ctx context.Context, id string) (bool, *pe.PinErr) {
	if strings.TrimSpace(id) == "" {
		return false, pe.ErrBadInput("A pin id is required.")
	}
	_, err := c.do(ctx, http.MethodDelete, pathPins+"/"+url.PathEscape(id), nil, nil)
	if err != nil {
		if err.Code == pe.ErrCodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CheckAccess tells whether digest opens the server's gate
func (c *Client) CheckAccess(ctx context.Context, digest string) (bool, *pe.PinErr) {
	probe := *c
	probe.Digest = digest
	_, err := probe.do(ctx, http.MethodGet, pathPins, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case err.Code == pe.ErrCodeUnauthorized:
		return false, nil
	case err.Code == pe.ErrCodeNotConfigured:
		// the gate let us through to a server without storage
		return true, nil
	default:
		return false, err
	}
}

// VersionFetcher fetches the version token the server currently serves
func (c *Client) VersionFetcher() *versionwatch.HTTPFetcher {
	f := versionwatch.NewHTTPFetcher(c.BaseURL + pathVersion)
	f.Client = c.HTTP
	return f
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, *pe.PinErr) {
	clog := logging.WithFuncName().WithField("path", path)
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, pe.ErrBadInput("invalid request").WithCause(err)
		}
		body = bytes.NewReader(b)
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	}
	if err != nil {
		return 0, pe.ErrBadInput("invalid server address").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Digest != "" {
		req.Header.Set(cst.HeaderAccess, c.Digest)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		clog.WithError(err).Debug("request failed")
		return 0, pe.ErrDependencyFailure(errMsgNoServer).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var m struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&m)
		if m.Message == "" {
			m.Message = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, statusErr(resp.StatusCode, m.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, pe.ErrServiceFailure("unexpected server response").WithCause(err)
		}
	}
	return resp.StatusCode, nil
}

// statusErr turns an error response of the server back into a PinErr
func statusErr(status int, msg string) *pe.PinErr {
	cause := fmt.Errorf("server answered %d", status)
	switch {
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return pe.ErrBadInput(msg).WithCause(cause)
	case status == http.StatusUnauthorized:
		return pe.ErrUnauthorized(msg).WithCause(cause)
	case status == http.StatusNotFound:
		return pe.ErrNotFound(msg).WithCause(cause)
	case status == http.StatusServiceUnavailable:
		return pe.ErrNotConfigured(msg).WithCause(cause)
	case status == http.StatusBadGateway:
		return pe.ErrDependencyFailure(msg).WithCause(cause)
	default:
		return pe.ErrServiceFailure(msg).WithCause(cause)
	}
}

// Subscribe opens the server's change stream
func (c *Client) Subscribe(ctx context.Context) (st.Subscription, *pe.PinErr) {
	u, err := url.Parse(c.BaseURL + pathPinStream)
	if err != nil {
		return nil, pe.ErrBadInput("invalid server address").WithCause(err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	h := http.Header{}
	if c.Digest != "" {
		h.Set(cst.HeaderAccess, c.Digest)
	}
	conn, resp, err := c.Dialer.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil {
			return nil, statusErr(resp.StatusCode, "The change stream could not be opened.").WithCause(err)
		}
		return nil, pe.ErrDependencyFailure(errMsgNoServer).WithCause(err)
	}
	s := &streamSub{conn: conn, ch: make(chan st.Change), done: make(chan struct{})}
	go s.pump()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type streamSub struct {
	conn *websocket.Conn
	ch   chan st.Change
	done chan struct{}
	once sync.Once
}

func (s *streamSub) pump() {
	clog := logging.WithFuncName()
	defer close(s.ch)
	for {
		var c st.Change
		if err := s.conn.ReadJSON(&c); err != nil {
			select {
			case <-s.done:
			default:
				clog.WithError(err).Info("change stream ended")
			}
			return
		}
		select {
		case s.ch <- c:
		case <-s.done:
			return
		}
	}
}

func (s *streamSub) Changes() <-chan st.Change {
	return s.ch
}

func (s *streamSub) Close() *pe.PinErr {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}
