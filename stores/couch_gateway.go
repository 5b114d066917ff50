package stores

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kivik/couchdb/v3"
	"github.com/go-kivik/kivik/v3"
	"github.com/segmentio/ksuid"
	"wuyrush.io/plakat/common/logging"
	pe "wuyrush.io/plakat/errors"
)

const (
	couchDesignDocPrefix = "_design/"
	// keeps the continuous feed alive through idle proxies
	couchHeartbeatMillis = 30000
)

// CouchGateway is a Gateway driven by a CouchDB database holding one document per pin. Changes come from
// the continuous _changes feed of the database.
type CouchGateway struct {
	Client *kivik.Client
	DB     *kivik.DB
	Now    func() time.Time
}

// NewCouchGateway connects to the CouchDB server at addr and makes sure database dbName exists
func NewCouchGateway(ctx context.Context, addr, username, passwd, dbName string) (*CouchGateway, *pe.PinErr) {
	clog := logging.WithFuncName().WithField("couchDB", dbName)
	client, err := kivik.New("couch", addr)
	if err != nil {
		return nil, pe.ErrServiceFailure("error creating CouchDB client").WithCause(err)
	}
	if username != "" {
		if err := client.Authenticate(ctx, couchdb.BasicAuth(username, passwd)); err != nil {
			return nil, pe.ErrServiceFailure("error setting CouchDB credentials").WithCause(err)
		}
	}
	// couch database names must be lower case
	dbName = strings.ToLower(dbName)
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		clog.WithError(err).Error("error checking CouchDB database")
		return nil, pe.ErrDependencyFailure("error checking CouchDB database").WithCause(err)
	}
	if !exists {
		clog.Info("creating CouchDB database")
		if err := client.CreateDB(ctx, dbName); err != nil && kivik.StatusCode(err) != http.StatusPreconditionFailed {
			clog.WithError(err).Error("error creating CouchDB database")
			return nil, pe.ErrDependencyFailure("error creating CouchDB database").WithCause(err)
		}
	}
	db := client.DB(ctx, dbName)
	if err := db.Err(); err != nil {
		return nil, pe.ErrDependencyFailure("error opening CouchDB database").WithCause(err)
	}
	return &CouchGateway{Client: client, DB: db, Now: time.Now}, nil
}

func (g *CouchGateway) List(ctx context.Context) ([]Record, *pe.PinErr) {
	const errMsg = "error listing pins"
	clog := logging.WithFuncName()
	rows, err := g.DB.AllDocs(ctx, kivik.Options{"include_docs": true})
	if err != nil {
		clog.WithError(err).Error("error calling CouchDB to list docs")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	defer rows.Close()
	rs := []Record{}
	for rows.Next() {
		if strings.HasPrefix(rows.ID(), couchDesignDocPrefix) {
			continue
		}
		var doc map[string]interface{}
		if err := rows.ScanDoc(&doc); err != nil {
			clog.WithError(err).WithField("pinID", rows.ID()).Warn("skipping unreadable doc")
			continue
		}
		rs = append(rs, docToRecord(doc))
	}
	if err := rows.Err(); err != nil {
		clog.WithError(err).Error("error iterating CouchDB docs")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	sortByCreatedAtDesc(rs)
	return rs, nil
}

func (g *CouchGateway) Insert(ctx context.Context, r Record) (Record, *pe.PinErr) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return nil, pe.ErrServiceFailure("error generating pin id").WithCause(err)
	}
	row := stamp(r, id.String(), g.Now())
	clog := logging.WithFuncName().WithField("pinID", row.ID())
	if _, err := g.DB.Put(ctx, row.ID(), recordToDoc(row)); err != nil {
		clog.WithError(err).Error("error calling CouchDB to save doc")
		return nil, pe.ErrDependencyFailure("error saving pin").WithCause(err)
	}
	return row, nil
}

func (g *CouchGateway) Delete(ctx context.Context, id string) (bool, *pe.PinErr) {
	const errMsg = "error deleting pin"
	clog := logging.WithFuncName().WithField("pinID", id)
	if id == "" || strings.HasPrefix(id, couchDesignDocPrefix) {
		return false, nil
	}
	var doc map[string]interface{}
	if err := g.DB.Get(ctx, id).ScanDoc(&doc); err != nil {
		if kivik.StatusCode(err) == http.StatusNotFound {
			return false, nil
		}
		clog.WithError(err).Error("error calling CouchDB to get doc revision")
		return false, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	rev, _ := doc["_rev"].(string)
	if _, err := g.DB.Delete(ctx, id, rev); err != nil {
		// someone else deleted it in between
		if kivik.StatusCode(err) == http.StatusNotFound {
			return false, nil
		}
		clog.WithError(err).Error("error calling CouchDB to delete doc")
		return false, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	return true, nil
}

func (g *CouchGateway) Subscribe(ctx context.Context) (Subscription, *pe.PinErr) {
	subCtx, cancel := context.WithCancel(ctx)
	feed, err := g.DB.Changes(subCtx, kivik.Options{
		"feed":         "continuous",
		"since":        "now",
		"include_docs": true,
		"heartbeat":    couchHeartbeatMillis,
	})
	if err != nil {
		cancel()
		logging.WithFuncName().WithError(err).Error("error opening CouchDB changes feed")
		return nil, pe.ErrDependencyFailure("error subscribing to pin changes").WithCause(err)
	}
	s := &couchSub{feed: feed, ch: make(chan Change), cancel: cancel, done: make(chan struct{})}
	go s.pump(subCtx)
	return s, nil
}

func (g *CouchGateway) Close() *pe.PinErr {
	if err := g.Client.Close(context.Background()); err != nil {
		return pe.ErrServiceFailure("failed close CouchDB client").WithCause(err)
	}
	return nil
}

type couchSub struct {
	feed   *kivik.Changes
	ch     chan Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *couchSub) pump(ctx context.Context) {
	clog := logging.WithFuncName()
	defer close(s.done)
	defer close(s.ch)
	defer s.feed.Close()
	for s.feed.Next() {
		id := s.feed.ID()
		if strings.HasPrefix(id, couchDesignDocPrefix) {
			continue
		}
		var doc map[string]interface{}
		if !s.feed.Deleted() {
			if err := s.feed.ScanDoc(&doc); err != nil {
				clog.WithError(err).WithField("pinID", id).Warn("ignoring unreadable change")
				continue
			}
		}
		select {
		case s.ch <- changeFromFeed(id, s.feed.Deleted(), doc):
		case <-ctx.Done():
			return
		}
	}
	if err := s.feed.Err(); err != nil && ctx.Err() == nil {
		clog.WithError(err).Error("lost CouchDB changes feed")
	}
}

func (s *couchSub) Changes() <-chan Change {
	return s.ch
}

func (s *couchSub) Close() *pe.PinErr {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// changeFromFeed maps one _changes entry to a Change; the first revision of a doc is its insertion
func changeFromFeed(id string, deleted bool, doc map[string]interface{}) Change {
	if deleted {
		return Change{Type: ChangeDelete, Old: Record{"id": id}}
	}
	typ := ChangeUpdate
	if rev, _ := doc["_rev"].(string); strings.HasPrefix(rev, "1-") {
		typ = ChangeInsert
	}
	return Change{Type: typ, New: docToRecord(doc)}
}

func docToRecord(doc map[string]interface{}) Record {
	r := make(Record, len(doc))
	for k, v := range doc {
		switch k {
		case "_id":
			r["id"] = v
		case "_rev", "_deleted", "_attachments":
		default:
			r[k] = v
		}
	}
	if _, ok := r["description"]; !ok {
		r["description"] = nil
	}
	return r
}

func recordToDoc(r Record) map[string]interface{} {
	doc := make(map[string]interface{}, len(r))
	for k, v := range r {
		if k == "id" {
			doc["_id"] = v
			continue
		}
		doc[k] = v
	}
	return doc
}
