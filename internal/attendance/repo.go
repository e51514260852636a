package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"classmark/internal/store"
)

// recordsPath is the document-store namespace holding the record set.
const recordsPath = "attendance"

// ErrPersistenceDegraded means the remote backend failed and the local
// cache took the write (or served the read). The user-visible outcome
// stands; callers surface this as a warning, not a failure.
var ErrPersistenceDegraded = errors.New("remote persistence degraded, local cache used")

// Repository reads and writes the attendance record set through the
// remote document store, falling back to the local cache. It normalizes
// the two historical snapshot shapes (mapping and array) into one
// ordered slice before anything downstream sees them.
type Repository struct {
	remote  store.Store
	cache   store.Store
	timeout time.Duration
}

// NewRepository creates a repository. timeout caps every remote call;
// non-positive falls back to 5 seconds.
func NewRepository(remote, cache store.Store, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repository{remote: remote, cache: cache, timeout: timeout}
}

// Load fetches the full record set. On remote failure it serves the
// last cached snapshot and reports degraded=true; the error is non-nil
// only when neither side could produce a record set.
func (r *Repository) Load(ctx context.Context) (records []Record, degraded bool, err error) {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	raw, err := r.remote.Get(rctx, recordsPath)
	cancel()
	if err == nil {
		records, err = decodeRecords(raw)
		if err == nil {
			return records, false, nil
		}
	}

	log.Printf("attendance: remote load failed, falling back to cache: %v", err)
	raw, cerr := r.cache.Get(ctx, recordsPath)
	if cerr != nil {
		return nil, true, fmt.Errorf("%w: remote: %v, cache: %v", ErrPersistenceDegraded, err, cerr)
	}
	records, cerr = decodeRecords(raw)
	if cerr != nil {
		return nil, true, fmt.Errorf("%w: cache snapshot unreadable: %v", ErrPersistenceDegraded, cerr)
	}
	return records, true, nil
}

// Append persists one new record. The local cache is written
// unconditionally so an accepted mark is never lost; a remote failure
// is reported as ErrPersistenceDegraded after the cache write.
func (r *Repository) Append(ctx context.Context, rec Record) error {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	_, remoteErr := r.remote.Append(rctx, recordsPath, rec)
	cancel()

	if _, err := r.cache.Append(ctx, recordsPath, rec); err != nil {
		if remoteErr != nil {
			return fmt.Errorf("append record %s: remote: %v, cache: %w", rec.ID, remoteErr, err)
		}
		log.Printf("attendance: cache append failed for record %s: %v", rec.ID, err)
	}

	if remoteErr != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceDegraded, remoteErr)
	}
	return nil
}

// SyncRemote re-pushes a record whose original remote write was
// degraded. Used by the background sync worker.
func (r *Repository) SyncRemote(ctx context.Context, rec Record) error {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.remote.Append(rctx, recordsPath, rec)
	return err
}

// decodeRecords interprets a raw snapshot in either historical shape.
// Mapping values are ordered by key so repeated loads are stable.
func decodeRecords(raw json.RawMessage) ([]Record, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []*Record
	if err := json.Unmarshal(raw, &list); err == nil {
		records := make([]Record, 0, len(list))
		for _, rec := range list {
			if rec != nil {
				records = append(records, *rec)
			}
		}
		return records, nil
	}

	var mapping map[string]Record
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("attendance snapshot is neither array nor mapping: %w", err)
	}
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		records = append(records, mapping[k])
	}
	return records, nil
}
