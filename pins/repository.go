// Package pins is the repository adapter between plakat's pin model and the persistence gateway.
package pins

import (
	"context"
	"math"
	"strings"

	"github.com/spf13/viper"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
	md "wuyrush.io/plakat/models"
	st "wuyrush.io/plakat/stores"
)

// user facing messages
const (
	ErrMsgTitleRequired     = "Please give the pin a title."
	ErrMsgBadCoordinates    = "Invalid coordinates."
	ErrMsgExpiryRequired    = "Please choose a removal date."
	ErrMsgExpiryInvalid     = "The removal date is invalid."
	ErrMsgIDRequired        = "A pin id is required."
	ErrMsgCouldNotSave      = "The pin could not be saved."
	ErrMsgCouldNotDelete    = "The pin could not be deleted."
	ErrMsgCouldNotLoad      = "Pins could not be loaded."
	ErrMsgStorageNotEnabled = "Pin storage is not configured."
)

// Repository vends pin operations on top of a Gateway.
type Repository struct {
	GW         st.Gateway
	Normalizer Normalizer
}

// New creates a Repository over gw, reading the expiry requirement from PLAKAT_REQUIRE_EXPIRY
func New(gw st.Gateway) *Repository {
	return &Repository{
		GW:         gw,
		Normalizer: Normalizer{RequireExpiry: viper.GetBool(cst.EnvRequireExpiry)},
	}
}

// List loads all pins, newest first
func (r *Repository) List(ctx context.Context) ([]md.Pin, *pe.PinErr) {
	if r.GW == nil {
		return nil, pe.ErrNotConfigured(ErrMsgStorageNotEnabled)
	}
	rs, err := r.GW.List(ctx)
	if err != nil {
		logging.WithFuncName().WithError(err).Error("error listing pin records")
		return nil, pe.ErrServiceFailure(ErrMsgCouldNotLoad).WithCause(err)
	}
	return r.Normalizer.Normalize(rs), nil
}

// Create validates in, inserts it and returns the pin as stored by the gateway. Invalid input is rejected
// before any gateway call.
func (r *Repository) Create(ctx context.Context, in md.PinInput) (*md.Pin, *pe.PinErr) {
	rec, verr := r.record(in)
	if verr != nil {
		return nil, verr
	}
	if r.GW == nil {
		return nil, pe.ErrNotConfigured(ErrMsgStorageNotEnabled)
	}
	clog := logging.WithFuncName()
	stored, err := r.GW.Insert(ctx, rec)
	if err != nil {
		clog.WithError(err).Error("error inserting pin record")
		return nil, pe.ErrServiceFailure(ErrMsgCouldNotSave).WithCause(err)
	}
	p, ok := r.Normalizer.Pin(stored)
	if !ok {
		clog.WithField("pinID", stored.ID()).Error("gateway returned an invalid pin record")
		return nil, pe.ErrServiceFailure(ErrMsgCouldNotSave)
	}
	return &p, nil
}

// Remove deletes the pin with given id. It reports whether a pin matched; unknown ids are not an error.
func (r *Repository) Remove(ctx context.Context, id string) (bool, *pe.PinErr) {
	if strings.TrimSpace(id) == "" {
		return false, pe.ErrBadInput(ErrMsgIDRequired)
	}
	if r.GW == nil {
		return false, pe.ErrNotConfigured(ErrMsgStorageNotEnabled)
	}
	ok, err := r.GW.Delete(ctx, id)
	if err != nil {
		logging.WithFuncName().WithField("pinID", id).WithError(err).Error("error deleting pin record")
		return false, pe.ErrServiceFailure(ErrMsgCouldNotDelete).WithCause(err)
	}
	return ok, nil
}

// record validates in and turns it into the gateway's wire representation
func (r *Repository) record(in md.PinInput) (st.Record, *pe.PinErr) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, pe.ErrBadInput(ErrMsgTitleRequired)
	}
	if !finite(in.Latitude) || !finite(in.Longitude) {
		return nil, pe.ErrBadInput(ErrMsgBadCoordinates)
	}
	expiresAt := strings.TrimSpace(in.ExpiresAt)
	if expiresAt == "" && r.Normalizer.RequireExpiry {
		return nil, pe.ErrBadInput(ErrMsgExpiryRequired)
	}
	if expiresAt != "" {
		if _, ok := md.ParseDate(expiresAt); !ok {
			return nil, pe.ErrBadInput(ErrMsgExpiryInvalid)
		}
	}
	rec := st.Record{
		"title":       title,
		"description": nil,
		"latitude":    in.Latitude,
		"longitude":   in.Longitude,
	}
	if in.Description != nil {
		if d := strings.TrimSpace(*in.Description); d != "" {
			rec["description"] = d
		}
	}
	if expiresAt != "" {
		rec["expires_at"] = expiresAt
	}
	return rec, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
