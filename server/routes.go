package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	mw "wuyrush.io/plakat/common/middleware"
	cst "wuyrush.io/plakat/constants"
	"wuyrush.io/plakat/gate"
)

const (
	routePins       = "/api/pins"
	routePin        = "/api/pins/:id"
	routePinStream  = "/api/pins/stream"
	routeVersion    = "/version.json"
	routeAPIVersion = "/api/version"
)

// set up routes
func (s *pinServer) SetupMux() {
	r := httprouter.New()
	// open routes skip the gate
	open := func(route string, h httprouter.Handle) httprouter.Handle {
		return mw.Chain(h, mw.ServerHeader(cst.HeaderServer), mw.Metrics(route), mw.PanicRecoverer())
	}
	gated := func(route string, h httprouter.Handle) httprouter.Handle {
		return mw.Chain(h, s.Gate.Middleware(), mw.ServerHeader(cst.HeaderServer), mw.Metrics(route), mw.PanicRecoverer())
	}
	r.GET(routePins, gated(routePins, s.HandleListPins()))
	r.POST(routePins, gated(routePins, s.HandleCreatePin()))
	r.DELETE(routePin, gated(routePin, s.HandleDeletePin()))
	r.GET(routePinStream, gated(routePinStream, s.HandlePinStream()))
	r.GET(routeVersion, open(routeVersion, s.HandleGetVersion()))
	r.GET(routeAPIVersion, open(routeAPIVersion, s.HandleGetVersion()))
	r.GET(gate.PathUnlock, open(gate.PathUnlock, s.Gate.HandleGetUnlockPage()))
	r.POST(gate.PathUnlock, open(gate.PathUnlock, s.Gate.HandlePostUnlock()))
	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	// static assets
	if dir := viper.GetString(cst.EnvStaticDir); dir != "" {
		static := http.StripPrefix("/static/", http.FileServer(http.Dir(dir)))
		r.GET("/static/*filepath", gated("/static/*filepath", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
			static.ServeHTTP(w, r)
		}))
	}

	s.Router = r
}
