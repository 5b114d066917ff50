// Package tiles vends a caching proxy for OpenStreetMap raster tiles.
package tiles

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/bluele/gcache"
	"github.com/gin-gonic/gin"
	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
)

const (
	Route = "/api/tiles/:z/:x/:y"

	defaultContentType  = "image/png"
	defaultCacheControl = "public, max-age=86400, immutable"
	// tiles are a few dozen KiB; anything far larger is not a tile
	maxTileSize = 4 << 20

	errMsgInvalidCoordinates = "Invalid tile coordinates"
	errMsgTileNotAvailable   = "Tile not available"
)

var (
	coordinate   = regexp.MustCompile(`^[0-9]+$`)
	tileFilename = regexp.MustCompile(`^[0-9]+\.png$`)
)

type tile struct {
	body         []byte
	contentType  string
	cacheControl string
}

// Proxy forwards tile requests to an upstream tile server and keeps successful tiles in an in-process
// LRU cache.
type Proxy struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Expiry    time.Duration
	cache     gcache.Cache
}

func NewProxy(baseURL, userAgent string, cacheSize int, expiry time.Duration, client *http.Client) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Proxy{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Client:    client,
		Expiry:    expiry,
		cache:     gcache.New(cacheSize).LRU().Build(),
	}
}

// ServerHeader marks every response, including routing failures, as served by plakat
func ServerHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Server", cst.HeaderServer)
		c.Next()
	}
}

// Register adds the tile route to r
func (p *Proxy) Register(r gin.IRoutes) {
	r.GET(Route, p.HandleGetTile)
}

func (p *Proxy) HandleGetTile(c *gin.Context) {
	z, x, y := c.Param("z"), c.Param("x"), c.Param("y")
	if !coordinate.MatchString(z) || !coordinate.MatchString(x) || !tileFilename.MatchString(y) {
		abortNoStore(c, http.StatusBadRequest, errMsgInvalidCoordinates)
		return
	}
	key := fmt.Sprintf("%s/%s/%s", z, x, y)
	clog := logging.WithFuncName().WithField("tile", key)
	if v, err := p.cache.Get(key); err == nil {
		t := v.(*tile)
		writeTile(c, http.StatusOK, t)
		return
	} else if err != gcache.KeyNotFoundError {
		clog.WithError(err).Warn("error reading tile cache")
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, p.BaseURL+"/"+key, nil)
	if err != nil {
		clog.WithError(err).Error("error building upstream request")
		abortNoStore(c, http.StatusInternalServerError, errMsgTileNotAvailable)
		return
	}
	req.Header.Set("User-Agent", p.UserAgent)
	resp, err := p.Client.Do(req)
	if err != nil {
		clog.WithError(err).Warn("error fetching tile from upstream")
		abortNoStore(c, http.StatusBadGateway, errMsgTileNotAvailable)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		clog.WithField("upstreamStatus", resp.StatusCode).Info("upstream has no tile")
		abortNoStore(c, resp.StatusCode, errMsgTileNotAvailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileSize+1))
	if err != nil {
		clog.WithError(err).Warn("error reading tile from upstream")
		abortNoStore(c, http.StatusBadGateway, errMsgTileNotAvailable)
		return
	}
	if len(body) > maxTileSize {
		clog.WithField("maxTileSize", maxTileSize).Warn("upstream tile too large")
		abortNoStore(c, http.StatusBadGateway, errMsgTileNotAvailable)
		return
	}
	t := &tile{
		body:         body,
		contentType:  headerOr(resp.Header, "Content-Type", defaultContentType),
		cacheControl: headerOr(resp.Header, "Cache-Control", defaultCacheControl),
	}
	if err := p.cache.SetWithExpire(key, t, p.Expiry); err != nil {
		clog.WithError(err).Warn("error caching tile")
	}
	writeTile(c, resp.StatusCode, t)
}

func writeTile(c *gin.Context, status int, t *tile) {
	c.Header("Cache-Control", t.cacheControl)
	c.Data(status, t.contentType, t.body)
}

func abortNoStore(c *gin.Context, status int, msg string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func headerOr(h http.Header, key, fallback string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	return fallback
}
