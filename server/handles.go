package main

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
	md "wuyrush.io/plakat/models"
	"wuyrush.io/plakat/pins"
)

const (
	respMsgPinNotFound = "Pin not found."
	respMsgPinDeleted  = "Pin deleted."
	respMsgInvalidBody = "Invalid request body."
)

type messageView struct {
	Message string `json:"message"`
}

type versionView struct {
	Version string `json:"version"`
}

// pinRequest is the body of a create request. Coordinates stay raw so numeric strings are accepted and
// absent values are told apart from zero.
type pinRequest struct {
	Title       string      `json:"title"`
	Description *string     `json:"description"`
	Latitude    interface{} `json:"latitude"`
	Longitude   interface{} `json:"longitude"`
	ExpiresAt   string      `json:"expiresAt"`
}

// input converts r into a PinInput. Unreadable coordinates become NaN and are rejected by the repository,
// after the title check.
func (r *pinRequest) input() md.PinInput {
	return md.PinInput{
		Title:       r.Title,
		Description: r.Description,
		Latitude:    coordinate(r.Latitude),
		Longitude:   coordinate(r.Longitude),
		ExpiresAt:   r.ExpiresAt,
	}
}

func coordinate(v interface{}) float64 {
	if f, ok := pins.Coordinate(v); ok {
		return f
	}
	return math.NaN()
}

func (s *pinServer) HandleListPins() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodGet)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.Banner != nil {
			writeErr(w, s.Banner, clog)
			return
		}
		list := s.Session.Pins()
		if list == nil {
			list = []md.Pin{}
		}
		writeJSON(w, http.StatusOK, list, clog)
	}
}

func (s *pinServer) HandleCreatePin() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	maxReqBodySize := viper.GetInt64(cst.EnvReqBodySizeMaxByte)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.Banner != nil {
			writeErr(w, s.Banner, clog)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxReqBodySize)
		var req pinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, messageView{cst.ErrMsgRequestBodyTooLarge}, clog)
				return
			}
			writeErr(w, pe.ErrBadInput(respMsgInvalidBody).WithCause(err), clog)
			return
		}
		p, err := s.Session.Create(r.Context(), req.input())
		if err != nil {
			writeErr(w, err, clog)
			return
		}
		clog.WithField("pinID", p.ID).Info("pin created")
		writeJSON(w, http.StatusCreated, p, clog)
	}
}

func (s *pinServer) HandleDeletePin() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodDelete)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.Banner != nil {
			writeErr(w, s.Banner, clog)
			return
		}
		id := strings.TrimSpace(ps.ByName("id"))
		plog := clog.WithField("pinID", id)
		ok, err := s.Session.Delete(r.Context(), id)
		if err != nil {
			writeErr(w, err, plog)
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, messageView{respMsgPinNotFound}, plog)
			return
		}
		plog.Info("pin deleted")
		writeJSON(w, http.StatusOK, messageView{respMsgPinDeleted}, plog)
	}
}

func (s *pinServer) HandleGetVersion() httprouter.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodGet)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, versionView{s.Version}, clog)
	}
}

// -------------- utils --------------
func writeJSON(w http.ResponseWriter, status int, v interface{}, clog *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		clog.WithError(err).Error("error encoding response")
	}
}

// writeErr answers with the user-facing message of err; the cause chain only goes to the log
func writeErr(w http.ResponseWriter, err *pe.PinErr, clog *logrus.Entry) {
	code := err.StatusCode()
	entry := clog.WithField("trace", err.Trace())
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	writeJSON(w, code, messageView{err.Error()}, clog)
}
