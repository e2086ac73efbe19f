package main

import (
	"sync/atomic"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

// snapshotStore is the handoff between the pipeline (single writer) and the
// HTTP handlers (readers). Snapshots are swapped whole and never mutated
// after Publish.
type snapshotStore struct {
	latest    atomic.Pointer[models.Snapshot]
	published atomic.Uint64
}

func (s *snapshotStore) Publish(snapshot *models.Snapshot) {
	s.latest.Store(snapshot)
	s.published.Add(1)
}

func (s *snapshotStore) Latest() *models.Snapshot {
	return s.latest.Load()
}

func (s *snapshotStore) Published() uint64 {
	return s.published.Load()
}
