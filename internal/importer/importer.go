// Package importer copies a session's overheard-node cache into the
// catalog: one node row plus one heard observation per remote node.
package importer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jkrauska/nodepool/internal/catalog"
	"github.com/jkrauska/nodepool/internal/logging"
	"github.com/jkrauska/nodepool/internal/meshwire"
)

// SessionCache is the slice of the device session the importer reads.
type SessionCache interface {
	Nodes() map[string]meshwire.NodeInfo
}

// Result summarizes one import run.
type Result struct {
	Imported int
	Skipped  int
}

type Importer struct {
	store *catalog.Store
	log   zerolog.Logger
}

func New(store *catalog.Store) *Importer {
	return &Importer{store: store, log: logging.For("importer")}
}

// ImportHeard records every node the local radio has overheard,
// attributed to localID as the observer. The local node itself is
// never imported as heard.
func (imp *Importer) ImportHeard(cache SessionCache, localID string) (Result, error) {
	var res Result
	now := time.Now().UTC()

	for id, info := range cache.Nodes() {
		if id == localID {
			res.Skipped++
			continue
		}

		lastSeen := now
		if info.LastHeard > 0 {
			lastSeen = time.Unix(info.LastHeard, 0).UTC()
		}
		node := catalog.Node{
			ID:        id,
			ShortName: info.User.ShortName,
			LongName:  info.User.LongName,
			HWModel:   info.User.HWModel,
			LastSeen:  lastSeen,
		}
		if err := imp.store.UpsertNode(node); err != nil {
			return res, fmt.Errorf("importer: node %s: %w", id, err)
		}

		heard := catalog.Heard{
			NodeID:   id,
			SeenBy:   localID,
			HeardAt:  lastSeen,
			SNR:      info.SNR,
			HopsAway: info.HopsAway,
		}
		if info.Position != nil {
			lat, lon := info.Position.Degrees()
			heard.Latitude = &lat
			heard.Longitude = &lon
		}
		if err := imp.store.RecordHeard(heard); err != nil {
			return res, fmt.Errorf("importer: heard %s: %w", id, err)
		}
		res.Imported++
	}

	imp.log.Info().
		Str("seen_by", localID).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Msg("heard-node import finished")
	return res, nil
}
