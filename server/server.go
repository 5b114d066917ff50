package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
	"wuyrush.io/plakat/gate"
	"wuyrush.io/plakat/mirror"
	"wuyrush.io/plakat/pins"
	st "wuyrush.io/plakat/stores"
)

func init() {
	viper.SetDefault(cst.EnvAppHost, "")
	viper.SetDefault(cst.EnvAppPort, "8080")
	viper.SetDefault(cst.EnvReqBodySizeMaxByte, 64*1024)
}

// pinServer serves the pin API, the change stream and the unlock pages. Pins are read from a live mirror
// of the gateway; a missing gateway configuration is kept as Banner and reported on every pin request.
type pinServer struct {
	Session *mirror.Session
	Banner  *pe.PinErr
	Hub     *hub
	Gate    *gate.Handler
	Version string
	Router  *httprouter.Router
}

func (s *pinServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// start up the server and serve incoming requests until SIGINT or SIGTERM
func serve() error {
	viper.AutomaticEnv()
	logging.SetupLog("PlakatServer", viper.GetBool(cst.EnvVerbose))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := st.NewGateway(ctx)
	if err != nil && err.Code != pe.ErrCodeNotConfigured {
		return err
	}
	if gw != nil {
		defer gw.Close()
	}
	svr, err := newPinServer(ctx, gw, err)
	if err != nil {
		return err
	}
	defer svr.Close()

	host, port := viper.GetString(cst.EnvAppHost), viper.GetString(cst.EnvAppPort)
	httpServer := &http.Server{Addr: fmt.Sprintf("%s:%s", host, port), Handler: svr}
	errs := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"host":    host,
			"port":    port,
			"version": svr.Version,
		}).Info("plakat server is starting up")
		errs <- httpServer.ListenAndServe()
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		return err
	case sig := <-exit:
		log.WithField("signal", sig).Info("plakat server is shutting down")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	svr.Hub.Close()
	return httpServer.Shutdown(shutdownCtx)
}

// newPinServer wires the server around gw. banner is the configuration problem to report instead of
// serving pins; gw is unused when it is set.
func newPinServer(ctx context.Context, gw st.Gateway, banner *pe.PinErr) (*pinServer, *pe.PinErr) {
	clog := logging.WithFuncName()
	svr := &pinServer{
		Banner:  banner,
		Hub:     newHub(),
		Gate:    gate.NewHandler(viper.GetString(cst.EnvAccessHash), gate.NewSessionStore(sessionKey())),
		Version: versionToken(),
	}
	if banner != nil {
		clog.WithField("banner", banner.Error()).Warn("pin storage unavailable")
	} else {
		repo := pins.New(gw)
		sess := mirror.NewSession(mirror.New(repo.Normalizer), repo, gw)
		sess.Shared = true
		if err := sess.Open(ctx); err != nil {
			return nil, err
		}
		svr.Session = sess
		sub, err := gw.Subscribe(ctx)
		if err != nil {
			sess.Close()
			return nil, err
		}
		go svr.Hub.Run(ctx, sub)
	}
	if !svr.Gate.Enabled() {
		clog.Info("no access hash configured; the gate is disabled")
	}
	svr.SetupMux()
	return svr, nil
}

func (s *pinServer) Close() {
	if s.Session != nil {
		s.Session.Close()
	}
	s.Hub.Close()
}

// sessionKey returns the cookie signing key. Without a configured key sessions do not survive a restart.
func sessionKey() []byte {
	if k := viper.GetString(cst.EnvSessionKey); k != "" {
		return []byte(k)
	}
	logging.WithFuncName().Warn("no session key configured; using a random one")
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		log.WithError(err).Fatal("error generating session key")
	}
	return k
}

// versionToken identifies the running build: the configured version, else the VCS revision stamped at
// build time, else the release version
func versionToken() string {
	if v := viper.GetString(cst.EnvVersion); v != "" {
		return v
	}
	if rev := version.GetRevision(); rev != "" && rev != "unknown" {
		return rev
	}
	if version.Version != "" {
		return version.Version
	}
	return "dev"
}
