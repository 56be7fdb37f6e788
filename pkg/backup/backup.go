package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

const snapshotTimeLayout = "20060102-150405.000"

// Storage is where snapshot files live.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Snapshot is one serialized copy of a record set.
type Snapshot[T any] struct {
	Version   string    `json:"version"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Records   []T       `json:"records"`
}

// Service writes and reads snapshots of one kind of record.
type Service[T any] struct {
	storage Storage
	kind    string
	version string
	now     func() time.Time
}

func NewService[T any](storage Storage, kind, version string) *Service[T] {
	return &Service[T]{storage: storage, kind: kind, version: version, now: time.Now}
}

func (s *Service[T]) prefix() string { return s.kind + "-" }

// Create stores records and returns the snapshot name.
func (s *Service[T]) Create(ctx context.Context, records []T) (string, error) {
	snap := Snapshot[T]{
		Version:   s.version,
		Kind:      s.kind,
		Timestamp: s.now().UTC(),
		Records:   records,
	}
	if snap.Records == nil {
		snap.Records = []T{}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s snapshot: %w", s.kind, err)
	}

	name := s.prefix() + snap.Timestamp.Format(snapshotTimeLayout) + ".json"
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	return name, nil
}

func (s *Service[T]) Load(ctx context.Context, name string) (*Snapshot[T], error) {
	r, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", name, err)
	}
	defer r.Close()

	var snap Snapshot[T]
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	if snap.Kind != s.kind {
		return nil, fmt.Errorf("snapshot %s holds %q records, want %q", name, snap.Kind, s.kind)
	}
	return &snap, nil
}

// List returns snapshot names oldest first.
func (s *Service[T]) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, s.prefix())
	if err != nil {
		return nil, err
	}
	// names embed a sortable timestamp
	sort.Strings(names)
	return names, nil
}

// Latest loads the newest snapshot. It returns nil without error when there is
// none.
func (s *Service[T]) Latest(ctx context.Context) (*Snapshot[T], error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return s.Load(ctx, names[len(names)-1])
}

// Prune keeps the newest keep snapshots and deletes the rest.
func (s *Service[T]) Prune(ctx context.Context, keep int) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i := 0; i < len(names)-keep; i++ {
		if err := s.storage.Delete(ctx, names[i]); err != nil {
			return deleted, fmt.Errorf("failed to delete snapshot %s: %w", names[i], err)
		}
		deleted++
	}
	return deleted, nil
}
