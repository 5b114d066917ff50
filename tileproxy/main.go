// Package tileproxy serves map tiles for the plakat map through a caching proxy.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
	"wuyrush.io/plakat/tiles"
)

func init() {
	viper.SetDefault(cst.EnvTileHost, "")
	viper.SetDefault(cst.EnvTilePort, "8081")
	viper.SetDefault(cst.EnvTileBaseURL, cst.DefaultTileBaseURL)
	viper.SetDefault(cst.EnvTileUserAgent, cst.DefaultTileUserAgent)
	viper.SetDefault(cst.EnvTileCacheSize, 4096)
	viper.SetDefault(cst.EnvTileCacheExpiry, cst.DefaultTileCacheExpiry)
	viper.SetDefault(cst.EnvTileFetchTimeout, 10*time.Second)
}

func main() {
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error starting up tile proxy")
	}
}

// tileProxy handles the tile traffic of the plakat map
type tileProxy struct {
	Router *gin.Engine
}

func serve() error {
	viper.AutomaticEnv()
	verbose := viper.GetBool(cst.EnvVerbose)
	logging.SetupLog("PlakatTileProxy", verbose)
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	s := setup()
	host, port := viper.GetString(cst.EnvTileHost), viper.GetString(cst.EnvTilePort)
	log.WithFields(log.Fields{
		"host":     host,
		"port":     port,
		"upstream": viper.GetString(cst.EnvTileBaseURL),
	}).Info("tile proxy is starting up")
	return s.Router.Run(fmt.Sprintf("%s:%s", host, port))
}

func setup() *tileProxy {
	s := &tileProxy{}
	s.SetupRoutes(tiles.NewProxy(
		viper.GetString(cst.EnvTileBaseURL),
		viper.GetString(cst.EnvTileUserAgent),
		viper.GetInt(cst.EnvTileCacheSize),
		viper.GetDuration(cst.EnvTileCacheExpiry),
		&http.Client{Timeout: viper.GetDuration(cst.EnvTileFetchTimeout)},
	))
	return s
}

func (s *tileProxy) SetupRoutes(p *tiles.Proxy) {
	rt := gin.New()
	rt.Use(gin.Recovery(), requestLogger(), tiles.ServerHeader())
	p.Register(rt)
	rt.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router = rt
}

// requestLogger logs every request through logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.WithFuncName().WithFields(log.Fields{
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request served")
	}
}
