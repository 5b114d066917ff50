package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	rt "wuyrush.io/plakat/common/retry"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
)

// ErrMsgGatewayNotConfigured is shown to users while no backend is configured
const ErrMsgGatewayNotConfigured = "Pin storage is not configured. Set " + cst.EnvGateway + " and its connection settings."

func init() {
	viper.SetDefault(cst.EnvGatewayTable, cst.DefaultTable)
	viper.SetDefault(cst.EnvGatewayStartupTimeout, 3*time.Second)
	viper.SetDefault(cst.EnvRedisPort, "6379")
}

func startupRetryOpts() []rt.RetryOption {
	return []rt.RetryOption{
		rt.WithTimeout(viper.GetDuration(cst.EnvGatewayStartupTimeout)),
		rt.WithBaseDelay(100 * time.Millisecond),
		rt.WithExp(2.0),
		rt.WithRetryOn(rt.IsDepOffline),
	}
}

// NewGateway sets up the Gateway selected by the PLAKAT_GATEWAY env var and verifies it is reachable. It
// returns a NotConfigured error when no backend is selected or its connection settings are missing.
// NOTE docker compose's depends_on only guarantees the startup order of containers, hence the retries
func NewGateway(ctx context.Context) (Gateway, *pe.PinErr) {
	kind := viper.GetString(cst.EnvGateway)
	log.WithField("gateway", kind).Info("setting up pin gateway")
	switch kind {
	case cst.GatewayMemory:
		return NewMemoryGateway(), nil
	case cst.GatewayRedis:
		return setupRedisGateway(ctx)
	case cst.GatewayPostgres:
		return setupPostgresGateway(ctx)
	case cst.GatewayCouchDB:
		return setupCouchGateway(ctx)
	case "":
		return nil, pe.ErrNotConfigured(ErrMsgGatewayNotConfigured)
	default:
		return nil, pe.ErrNotConfigured(fmt.Sprintf("Unknown pin storage %q.", kind))
	}
}

func setupRedisGateway(ctx context.Context) (Gateway, *pe.PinErr) {
	host := viper.GetString(cst.EnvRedisHost)
	if host == "" {
		return nil, pe.ErrNotConfigured(ErrMsgGatewayNotConfigured)
	}
	db := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", host, viper.GetString(cst.EnvRedisPort)),
		Password:   viper.GetString(cst.EnvRedisPasswd),
		DB:         viper.GetInt(cst.EnvRedisDB),
		MaxRetries: 3,
	})
	// verify the client is up correctly
	pingFn := func() error {
		_, err := db.Ping().Result()
		return err
	}
	if err := rt.Retry(ctx, pingFn, startupRetryOpts()...); err != nil {
		db.Close()
		return nil, pe.ErrServiceFailure("failed initializing Redis").WithCause(err)
	}
	return NewRedisGateway(db, viper.GetString(cst.EnvGatewayTable)), nil
}

func setupPostgresGateway(ctx context.Context) (Gateway, *pe.PinErr) {
	dsn := viper.GetString(cst.EnvPostgresDSN)
	if dsn == "" {
		return nil, pe.ErrNotConfigured(ErrMsgGatewayNotConfigured)
	}
	db, err := OpenPostgres(dsn)
	if err != nil {
		return nil, pe.ErrServiceFailure("failed initializing postgres").WithCause(err)
	}
	pingFn := func() error {
		return db.PingContext(ctx)
	}
	if err := rt.Retry(ctx, pingFn, startupRetryOpts()...); err != nil {
		db.Close()
		return nil, pe.ErrServiceFailure("failed initializing postgres").WithCause(err)
	}
	g := NewPostgresGateway(db, dsn)
	if perr := g.Migrate(ctx); perr != nil {
		db.Close()
		return nil, perr
	}
	return g, nil
}

func setupCouchGateway(ctx context.Context) (Gateway, *pe.PinErr) {
	addr := viper.GetString(cst.EnvCouchAddr)
	if addr == "" {
		return nil, pe.ErrNotConfigured(ErrMsgGatewayNotConfigured)
	}
	var g *CouchGateway
	connectFn := func() error {
		var perr *pe.PinErr
		g, perr = NewCouchGateway(ctx, addr,
			viper.GetString(cst.EnvCouchUsername),
			viper.GetString(cst.EnvCouchPasswd),
			viper.GetString(cst.EnvGatewayTable))
		// retry decisions are made on the backend error
		if perr != nil && perr.Unwrap() != nil {
			return perr.Unwrap()
		}
		if perr != nil {
			return perr
		}
		return nil
	}
	if err := rt.Retry(ctx, connectFn, startupRetryOpts()...); err != nil {
		return nil, pe.ErrServiceFailure("failed initializing CouchDB").WithCause(err)
	}
	return g, nil
}
