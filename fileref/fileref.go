// Package fileref resolves opaque file references to fresh download URLs.
//
// A FileReference enters the system either when an upload completes or when
// a tool result embeds one. Both pathways race to refresh the download URL
// against the external file service and to update shared display state; the
// Resolver converges them: fetches are deduplicated per file ID, resolution
// is last-write-wins guarded by a monotonic revision so a stale resolution
// never overwrites a newer one, and resolution failures fall back to the
// URL already in hand instead of surfacing an error.
package fileref

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FileReference identifies a stored file. At least one field is set.
type FileReference struct {
	FileID      string `json:"file_id,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// IsZero reports whether the reference carries no information.
func (r FileReference) IsZero() bool { return r.FileID == "" && r.DownloadURL == "" }

// FileService is the external collaborator that owns file storage. Both
// calls are opaque remote operations; the Resolver bounds them with its
// configured timeout.
type FileService interface {
	// IssueDownloadURL returns a fresh download URL for the file.
	IssueDownloadURL(ctx context.Context, fileID string) (string, error)
	// RegisterUpload stores the payload and returns its file ID.
	RegisterUpload(ctx context.Context, data []byte) (string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(log *slog.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithTimeout bounds each remote call to the file service. Default 10s.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// Resolver refreshes download URLs and maintains shared display state.
// Safe for concurrent use.
type Resolver struct {
	svc     FileService
	store   Store
	log     *slog.Logger
	timeout time.Duration

	sf singleflight.Group

	mu     sync.Mutex
	seq    uint64
	latest Entry // most recently resolved reference, by call order
}

// NewResolver builds a Resolver over the given service and display-state
// store.
func NewResolver(svc FileService, store Store, opts ...Option) (*Resolver, error) {
	if svc == nil {
		return nil, errNilService
	}
	if store == nil {
		return nil, errNilStore
	}
	r := &Resolver{
		svc:     svc,
		store:   store,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve refreshes ref's download URL. It never fails: when the file
// service is unreachable the best URL already known (the provided one, or a
// previously stored resolution) is returned instead. The file ID is never
// altered, so resolving the same reference twice is idempotent.
func (r *Resolver) Resolve(ctx context.Context, ref FileReference) FileReference {
	if ref.FileID == "" {
		// Nothing to refresh against; pass through.
		return ref
	}

	rev := r.nextRev()

	v, err, _ := r.sf.Do(ref.FileID, func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.svc.IssueDownloadURL(fctx, ref.FileID)
	})
	if err != nil {
		r.log.WarnContext(ctx, "fileref.resolve.fail",
			slog.String("file_id", ref.FileID),
			slog.String("err", err.Error()))
		return r.fallback(ctx, ref, rev)
	}

	url, _ := v.(string)
	if url == "" {
		return r.fallback(ctx, ref, rev)
	}

	entry := Entry{FileID: ref.FileID, URL: url, Revision: rev}
	if _, err := r.store.PutIfNewer(ctx, entry); err != nil {
		r.log.WarnContext(ctx, "fileref.store.fail",
			slog.String("file_id", ref.FileID),
			slog.String("err", err.Error()))
	}
	r.updateLatest(entry)

	r.log.DebugContext(ctx, "fileref.resolve.ok", slog.String("file_id", ref.FileID))
	return FileReference{FileID: ref.FileID, DownloadURL: url}
}

// Upload registers the payload with the file service and resolves the new
// reference. Registration failures are real errors; resolution of the
// freshly issued ID follows the usual never-fail path.
func (r *Resolver) Upload(ctx context.Context, data []byte) (FileReference, error) {
	uctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	id, err := r.svc.RegisterUpload(uctx, data)
	if err != nil {
		return FileReference{}, err
	}
	return r.Resolve(ctx, FileReference{FileID: id}), nil
}

// Latest reports the most recently resolved reference, if any. Stale
// resolutions (ones that started before the current latest) never replace it.
func (r *Resolver) Latest() (FileReference, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest.FileID == "" {
		return FileReference{}, false
	}
	return FileReference{FileID: r.latest.FileID, DownloadURL: r.latest.URL}, true
}

func (r *Resolver) nextRev() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

func (r *Resolver) updateLatest(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.Revision >= r.latest.Revision {
		r.latest = e
	}
}

// fallback returns the best URL already known for ref without consulting the
// file service again.
func (r *Resolver) fallback(ctx context.Context, ref FileReference, rev uint64) FileReference {
	if ref.DownloadURL != "" {
		return ref
	}
	if stored, err := r.store.Get(ctx, ref.FileID); err == nil && stored != nil {
		r.updateLatest(Entry{FileID: ref.FileID, URL: stored.URL, Revision: rev})
		return FileReference{FileID: ref.FileID, DownloadURL: stored.URL}
	}
	return ref
}
