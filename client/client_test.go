package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/plakat/constants"
	pe "wuyrush.io/plakat/errors"
	md "wuyrush.io/plakat/models"
	st "wuyrush.io/plakat/stores"
)

const testDigest = "d1g3st"

// fakeServer answers like a plakat server whose gate opens for testDigest
func fakeServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	gated := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(cst.HeaderAccess) != testDigest {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "locked"})
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("/api/pins", gated(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, []md.Pin{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}})
		case http.MethodPost:
			var in md.PinInput
			json.NewDecoder(r.Body).Decode(&in)
			if in.Title == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Please give the pin a title."})
				return
			}
			writeJSON(w, http.StatusCreated, md.Pin{ID: "new", Title: in.Title, Latitude: in.Latitude, Longitude: in.Longitude})
		}
	}))
	mux.HandleFunc("/api/pins/", gated(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pins/a":
			writeJSON(w, http.StatusOK, map[string]string{"message": "Pin deleted."})
		case "/api/pins/boom":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "The pin could not be deleted."})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Pin not found."})
		}
	}))
	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/api/pins/stream", gated(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(st.Change{Type: st.ChangeInsert, New: st.Record{"id": "x", "title": "X"}})
		conn.WriteJSON(st.Change{Type: st.ChangeDelete, Old: st.Record{"id": "a"}})
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	mux.HandleFunc("/version.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": "v42"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Pins(t *testing.T) {
	srv := fakeServer(t)
	c := New(srv.URL+"/", testDigest)
	ctx := context.Background()

	ps, err := c.List(ctx)
	require.Nil(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "a", ps[0].ID)

	p, err := c.Create(ctx, md.PinInput{Title: "Neu", Latitude: 1, Longitude: 2})
	require.Nil(t, err)
	assert.Equal(t, "new", p.ID)
	assert.Equal(t, "Neu", p.Title)

	_, err = c.Create(ctx, md.PinInput{})
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeAPIBadRequest, err.Code)
	assert.Equal(t, "Please give the pin a title.", err.Error())
}

func TestClient_Remove(t *testing.T) {
	srv := fakeServer(t)
	c := New(srv.URL, testDigest)
	tcs := []struct {
		name         string
		id           string
		expected     bool
		expectedCode pe.ErrCode
	}{
		{name: "Matched", id: "a", expected: true},
		{name: "NothingMatched", id: "zzz", expected: false},
		{name: "ServerFailure", id: "boom", expectedCode: pe.ErrCodeServiceFailure},
		{name: "BlankID", id: " ", expectedCode: pe.ErrCodeAPIBadRequest},
	}
	for _, c2 := range tcs {
		t.Run(c2.name, func(t *testing.T) {
			ok, err := c.Remove(context.Background(), c2.id)
			if c2.expectedCode != "" {
				require.NotNil(t, err)
				assert.Equal(t, c2.expectedCode, err.Code)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, c2.expected, ok)
		})
	}
}

func TestClient_Access(t *testing.T) {
	srv := fakeServer(t)
	locked := New(srv.URL, "")
	_, err := locked.List(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeUnauthorized, err.Code)

	ok, err := locked.CheckAccess(context.Background(), "wrong")
	require.Nil(t, err)
	assert.False(t, ok)
	ok, err = locked.CheckAccess(context.Background(), testDigest)
	require.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", locked.Digest, "probing leaves the client untouched")

	offline := New("http://127.0.0.1:1", testDigest)
	_, err = offline.CheckAccess(context.Background(), testDigest)
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeDependencyFailure, err.Code)
}

func TestClient_Subscribe(t *testing.T) {
	srv := fakeServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := New(srv.URL, "").Subscribe(ctx)
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeUnauthorized, err.Code)

	sub, err := New(srv.URL, testDigest).Subscribe(ctx)
	require.Nil(t, err)
	var got []st.Change
	for len(got) < 2 {
		select {
		case c := <-sub.Changes():
			got = append(got, c)
		case <-time.After(2 * time.Second):
			t.Fatal("no change received")
		}
	}
	assert.Equal(t, st.ChangeInsert, got[0].Type)
	assert.Equal(t, "x", got[0].New.ID())
	assert.Equal(t, st.ChangeDelete, got[1].Type)
	assert.Equal(t, "a", got[1].Old.ID())

	cancel()
	select {
	case _, ok := <-sub.Changes():
		assert.False(t, ok, "changes channel is closed once the context is done")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestClient_VersionFetcher(t *testing.T) {
	srv := fakeServer(t)
	v, err := New(srv.URL, "").VersionFetcher().Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v42", v)
}
