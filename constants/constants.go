// Package constants vends constants used in various components of plakat service, e.g., env var names
package constants

import "time"

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "PLAKAT_VERBOSE"
	// gateway
	EnvGateway               = "PLAKAT_GATEWAY"
	EnvGatewayTable          = "PLAKAT_GATEWAY_TABLE"
	EnvRedisHost             = "REDIS_HOST"
	EnvRedisPort             = "REDIS_PORT"
	EnvRedisPasswd           = "REDIS_PASSWD"
	EnvRedisDB               = "REDIS_DB"
	EnvPostgresDSN           = "PLAKAT_POSTGRES_DSN"
	EnvCouchAddr             = "PLAKAT_COUCH_ADDR"
	EnvCouchUsername         = "PLAKAT_COUCH_USERNAME"
	EnvCouchPasswd           = "PLAKAT_COUCH_PASSWD"
	EnvGatewayStartupTimeout = "PLAKAT_GATEWAY_STARTUP_TIMEOUT"
	// pins
	EnvRequireExpiry = "PLAKAT_REQUIRE_EXPIRY"
	// server
	EnvAppHost            = "PLAKAT_HOST"
	EnvAppPort            = "PLAKAT_PORT"
	EnvReqBodySizeMaxByte = "PLAKAT_REQ_BODY_SIZE_MAX_BYTE"
	EnvStaticDir          = "PLAKAT_STATIC_DIR"
	EnvAccessHash         = "PLAKAT_ACCESS_HASH"
	EnvSessionKey         = "PLAKAT_SESSION_KEY"
	EnvVersion            = "PLAKAT_VERSION"
	// tile proxy
	EnvTileHost         = "PLAKAT_TILE_HOST"
	EnvTilePort         = "PLAKAT_TILE_PORT"
	EnvTileBaseURL      = "PLAKAT_TILE_BASE_URL"
	EnvTileUserAgent    = "PLAKAT_TILE_USER_AGENT"
	EnvTileCacheSize    = "PLAKAT_TILE_CACHE_SIZE"
	EnvTileCacheExpiry  = "PLAKAT_TILE_CACHE_EXPIRY"
	EnvTileFetchTimeout = "PLAKAT_TILE_FETCH_TIMEOUT"
	// reminder
	EnvReminderSweepFreq     = "PLAKAT_REMINDER_SWEEP_FREQ"
	EnvReminderRenotifyAfter = "PLAKAT_REMINDER_RENOTIFY_AFTER"
	EnvReminderCacheSize     = "PLAKAT_REMINDER_CACHE_SIZE"
	EnvSMTPAddr              = "PLAKAT_SMTP_ADDR"
	EnvSMTPUsername          = "PLAKAT_SMTP_USERNAME"
	EnvSMTPPasswd            = "PLAKAT_SMTP_PASSWD"
	EnvMailFrom              = "PLAKAT_MAIL_FROM"
	EnvMailTo                = "PLAKAT_MAIL_TO"
	// cli
	EnvServerURL  = "PLAKAT_SERVER_URL"
	EnvPassphrase = "PLAKAT_PASSPHRASE"

	// -------------- gateway kinds --------------
	GatewayMemory   = "memory"
	GatewayRedis    = "redis"
	GatewayPostgres = "postgres"
	GatewayCouchDB  = "couchdb"

	// -------------- defaults --------------
	DefaultTable             = "Pins"
	DefaultTileBaseURL       = "https://tile.openstreetmap.org"
	DefaultTileUserAgent     = "PlakatApp/1.0 (tile proxy; contact: admin@example.com)"
	DefaultTileCacheExpiry   = time.Hour
	DefaultVersionCheckEvery = 60 * time.Second
	DefaultAutoReloadDelay   = 30 * time.Second

	// -------------- http --------------
	HeaderAccess    = "X-Plakat-Access"
	HeaderServer    = "Plakat"
	SessionName     = "plakat"
	SessionKeyToken = "plakat-access-hash"

	// -------------- error messages --------------
	ErrMsgRequestBodyTooLarge = "request body too large"

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
)
