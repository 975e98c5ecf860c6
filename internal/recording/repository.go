package recording

import (
	"errors"
	"sync"
)

// Repository defines the concurrency-safe contract for accessing and mutating
// the recordings catalog.
type Repository interface {
	// Create adds rec. It fails with ErrRecordingExists if the ID is taken.
	Create(rec Recording) error

	// Get returns a copy of the recording.
	Get(id RecordingID) (Recording, bool)

	// Update applies fn to the stored recording under the repository lock.
	Update(id RecordingID, fn func(*Recording)) (Recording, error)

	// List returns every recording, newest first.
	List() []Recording

	// ActiveCount returns the number of recordings whose capture is live.
	// Used for metrics.
	ActiveCount() int
}

var (
	// ErrRecordingNotFound is returned for an unknown recording ID.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrRecordingExists is returned when creating a recording with a taken ID.
	ErrRecordingExists = errors.New("recording already exists")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Create implements Repository.Create.
func (r *InMemoryRepository) Create(rec Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetRecording(rec.ID); exists {
		return ErrRecordingExists
	}
	r.store.SetRecording(&rec)
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id RecordingID) (Recording, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.store.GetRecording(id)
	if !ok {
		return Recording{}, false
	}
	return *rec, true
}

// Update implements Repository.Update.
func (r *InMemoryRepository) Update(id RecordingID, fn func(*Recording)) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.store.GetRecording(id)
	if !ok {
		return Recording{}, ErrRecordingNotFound
	}
	updated := *rec
	fn(&updated)
	updated.ID = id
	r.store.SetRecording(&updated)
	return updated, nil
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []Recording {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListRecordingIDs()
	out := make([]Recording, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.store.GetRecording(id); ok {
			out = append(out, *rec)
		}
	}
	return out
}

// ActiveCount implements Repository.ActiveCount.
func (r *InMemoryRepository) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListRecordingIDs() {
		if rec, ok := r.store.GetRecording(id); ok && rec.Status.Live() {
			n++
		}
	}
	return n
}
