package meshview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/testutil/testlog"
)

func TestNodesDecodesAliasedFields(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/nodes", r.URL.Path)
		assert.Equal(t, "14", r.URL.Query().Get("days_active"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"node_id": "!00aaa111", "short_name": "RM1", "long_name": "Remote One",
			 "last_seen": 1767225600, "latitude": 37.7749, "longitude": -122.4194},
			{"id": 11184810, "shortName": "RM2", "lastSeen": "2026-01-01T12:00:00Z",
			 "latitude_i": 377749000, "longitude_i": -1224194000},
			{"nodeId": "00BBB222", "hw_model": "HELTEC_V3"},
			{"short_name": "noid"}
		]`))
	}))
	defer srv.Close()

	nodes, err := New(srv.URL).Nodes(context.Background(), 14)
	require.NoError(t, err)
	require.Len(t, nodes, 3, "the row without any id spelling is dropped")

	assert.Equal(t, "!00aaa111", nodes[0].ID)
	assert.Equal(t, "RM1", nodes[0].ShortName)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), nodes[0].LastSeen)
	require.NotNil(t, nodes[0].Latitude)
	assert.InDelta(t, 37.7749, *nodes[0].Latitude, 0.0001)

	// Numeric id 11184810 == 0x00aaaaaa.
	assert.Equal(t, "!00aaaaaa", nodes[1].ID)
	assert.Equal(t, "RM2", nodes[1].ShortName)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), nodes[1].LastSeen)
	require.NotNil(t, nodes[1].Latitude)
	assert.InDelta(t, 37.7749, *nodes[1].Latitude, 0.0001)
	require.NotNil(t, nodes[1].Longitude)
	assert.InDelta(t, -122.4194, *nodes[1].Longitude, 0.0001)

	// Bare hex ids are normalized to the canonical spelling.
	assert.Equal(t, "!00bbb222", nodes[2].ID)
	assert.Equal(t, "HELTEC_V3", nodes[2].HWModel)
}

func TestNodesRejectsBadStatus(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Nodes(context.Background(), 7)
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestSyncWritesCatalog(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"node_id": "!00aaa111", "short_name": "RM1", "last_seen": 1767225600}
		]`))
	}))
	defer srv.Close()

	store, err := catalog.OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	count, err := New(srv.URL).Sync(context.Background(), store, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := store.Node("!00aaa111")
	require.NoError(t, err)
	assert.Equal(t, "RM1", n.ShortName)

	heard, err := store.HeardBy(SeenBy, time.Time{})
	require.NoError(t, err)
	require.Len(t, heard, 1)
	assert.Equal(t, "!00aaa111", heard[0].NodeID)
}
