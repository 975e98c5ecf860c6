package recording

import "slices"

// Store is the persistence abstraction for the recordings catalog.
// The Repository uses Store for all reads and writes and never sorts:
// ListRecordingIDs already returns the newest recording first.
type Store interface {
	GetRecording(id RecordingID) (*Recording, bool)
	SetRecording(r *Recording)
	ListRecordingIDs() []RecordingID
}

// InMemoryStore keeps recordings in a map plus an index ordered by start time,
// newest first, with ties broken by ID.
type InMemoryStore struct {
	recordings map[RecordingID]*Recording
	order      []RecordingID
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		recordings: make(map[RecordingID]*Recording),
	}
}

func (s *InMemoryStore) GetRecording(id RecordingID) (*Recording, bool) {
	r, ok := s.recordings[id]
	return r, ok
}

// SetRecording stores r, moving it in the index if its start time changed.
func (s *InMemoryStore) SetRecording(r *Recording) {
	old, exists := s.recordings[r.ID]
	s.recordings[r.ID] = r
	if exists {
		if old.StartedAt.Equal(r.StartedAt) {
			return
		}
		s.order = slices.DeleteFunc(s.order, func(id RecordingID) bool { return id == r.ID })
	}
	i, _ := slices.BinarySearchFunc(s.order, r, func(id RecordingID, target *Recording) int {
		return s.compare(s.recordings[id], target)
	})
	s.order = slices.Insert(s.order, i, r.ID)
}

// compare orders a before b when a started later.
func (s *InMemoryStore) compare(a, b *Recording) int {
	if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// ListRecordingIDs returns a copy of the index, newest first.
func (s *InMemoryStore) ListRecordingIDs() []RecordingID {
	return slices.Clone(s.order)
}
