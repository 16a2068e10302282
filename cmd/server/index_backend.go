package main

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"hmibridge/internal/persistence/indexdb"
	"hmibridge/internal/sim/objects"
	"hmibridge/internal/sim/tuning"
)

// openIndex opens the sqlite read model unless it is disabled by flag or
// tuning. Relative paths resolve under dataDir.
func openIndex(dataDir string, tune tuning.IndexDB, disableDB bool, logger *log.Logger) (*indexdb.SQLiteIndex, error) {
	if disableDB || !tune.Enabled {
		logger.Printf("index db disabled")
		return nil, nil
	}
	path := strings.TrimSpace(tune.Path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	logger.Printf("index db: sqlite path=%s", path)
	return idx, nil
}

// seedObjects restores the last known world objects into reg. Writes made
// here are not echoed back to the index.
func seedObjects(ctx context.Context, idx *indexdb.SQLiteIndex, reg *objects.Manager, logger *log.Logger) {
	if idx == nil {
		return
	}
	objs, err := idx.LoadObjects(ctx)
	if err != nil {
		logger.Printf("index db: load objects: %v", err)
		return
	}
	for _, o := range objs {
		reg.Create(o.ID, o.Translation)
	}
	if len(objs) > 0 {
		logger.Printf("restored %d world objects", len(objs))
	}
	reg.OnWrite(idx.RecordObject)
}
