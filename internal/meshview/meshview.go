// Package meshview pulls regional node sightings from a meshview web
// instance and folds them into the catalog. The API is loosely typed
// and has drifted across deployments, so decoding is alias-tolerant.
package meshview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
)

// SeenBy attributes meshview-sourced observations in heard history.
const SeenBy = "meshviewAPI"

var ErrBadStatus = errors.New("meshview: unexpected response status")

// Node is one sighting reported by the API.
type Node struct {
	ID        string
	ShortName string
	LongName  string
	HWModel   string
	LastSeen  time.Time
	Latitude  *float64
	Longitude *float64
}

type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
		log:  logging.For("meshview"),
	}
}

// Nodes fetches every node the instance saw within the last daysActive
// days. Rows without a usable node id are dropped, not fatal.
func (c *Client) Nodes(ctx context.Context, daysActive int) ([]Node, error) {
	endpoint := fmt.Sprintf("%s/api/nodes?%s", c.base,
		url.Values{"days_active": {strconv.Itoa(daysActive)}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("meshview: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meshview: fetch nodes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("meshview: decode nodes: %w", err)
	}

	nodes := make([]Node, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		node, ok := decodeNode(row)
		if !ok {
			dropped++
			continue
		}
		nodes = append(nodes, node)
	}
	if dropped > 0 {
		c.log.Warn().Int("dropped", dropped).Msg("rows without a node id skipped")
	}
	return nodes, nil
}

// Sync fetches sightings and writes them to the catalog, one node row
// plus one heard observation each.
func (c *Client) Sync(ctx context.Context, store *catalog.Store, daysActive int) (int, error) {
	nodes, err := c.Nodes(ctx, daysActive)
	if err != nil {
		return 0, err
	}
	for _, n := range nodes {
		err := store.UpsertNode(catalog.Node{
			ID:        n.ID,
			ShortName: n.ShortName,
			LongName:  n.LongName,
			HWModel:   n.HWModel,
			LastSeen:  n.LastSeen,
		})
		if err != nil {
			return 0, err
		}
		err = store.RecordHeard(catalog.Heard{
			NodeID:    n.ID,
			SeenBy:    SeenBy,
			HeardAt:   n.LastSeen,
			Latitude:  n.Latitude,
			Longitude: n.Longitude,
		})
		if err != nil {
			return 0, err
		}
	}
	c.log.Info().Int("nodes", len(nodes)).Int("days_active", daysActive).Msg("meshview sync finished")
	return len(nodes), nil
}

func decodeNode(row map[string]any) (Node, bool) {
	id, ok := nodeID(first(row, "node_id", "id", "nodeId"))
	if !ok {
		return Node{}, false
	}
	n := Node{
		ID:        id,
		ShortName: str(first(row, "short_name", "shortName")),
		LongName:  str(first(row, "long_name", "longName")),
		HWModel:   str(first(row, "hw_model", "hwModel", "hardware")),
		LastSeen:  timestamp(first(row, "last_seen", "lastSeen", "last_heard")),
	}

	if lat, lon, ok := coordinates(row); ok {
		n.Latitude = &lat
		n.Longitude = &lon
	}
	return n, true
}

// nodeID accepts both spellings the API has shipped: a numeric node
// number or a textual id with or without the "!" prefix.
func nodeID(v any) (string, bool) {
	switch id := v.(type) {
	case float64:
		if id <= 0 {
			return "", false
		}
		return meshwire.NodeID(uint32(id)), true
	case string:
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return "", false
		}
		if !strings.HasPrefix(id, "!") {
			id = "!" + id
		}
		return id, true
	}
	return "", false
}

// timestamp accepts unix seconds or an ISO 8601 string.
func timestamp(v any) time.Time {
	switch ts := v.(type) {
	case float64:
		return time.Unix(int64(ts), 0).UTC()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// coordinates prefers float degrees and falls back to the integer
// microdegree pair.
func coordinates(row map[string]any) (lat, lon float64, ok bool) {
	if latV, okLat := first(row, "latitude", "lat").(float64); okLat {
		if lonV, okLon := first(row, "longitude", "lon", "lng").(float64); okLon {
			return latV, lonV, true
		}
	}
	if latI, okLat := first(row, "latitude_i").(float64); okLat {
		if lonI, okLon := first(row, "longitude_i").(float64); okLon {
			return latI / 1e7, lonI / 1e7, true
		}
	}
	return 0, 0, false
}

func first(row map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
