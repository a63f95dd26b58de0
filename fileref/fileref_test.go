package fileref_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mcpauth/authgate/fileref"
	"github.com/mcpauth/authgate/fileref/memory"
)

type fakeService struct {
	mu      sync.Mutex
	issued  atomic.Int64
	fail    bool
	block   chan struct{}
	uploads int
}

func (f *fakeService) IssueDownloadURL(ctx context.Context, fileID string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	n := f.issued.Add(1)
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return "", errors.New("file service unavailable")
	}
	return fmt.Sprintf("https://files.example/%s?sig=%d", fileID, n), nil
}

func (f *fakeService) RegisterUpload(ctx context.Context, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return fmt.Sprintf("file-%d", f.uploads), nil
}

func (f *fakeService) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func newResolver(t *testing.T, svc fileref.FileService) *fileref.Resolver {
	t.Helper()
	store, err := memory.New(64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r, err := fileref.NewResolver(svc, store, fileref.WithTimeout(2*time.Second))
	require.NoError(t, err)
	return r
}

func TestResolve_Idempotent(t *testing.T) {
	svc := &fakeService{}
	r := newResolver(t, svc)

	first := r.Resolve(context.Background(), fileref.FileReference{FileID: "f1"})
	require.Equal(t, "f1", first.FileID)
	require.NotEmpty(t, first.DownloadURL)

	second := r.Resolve(context.Background(), first)
	require.Equal(t, "f1", second.FileID, "file ID must survive re-resolution")
	require.NotEmpty(t, second.DownloadURL)
}

func TestResolve_FailureFallsBackToProvidedURL(t *testing.T) {
	svc := &fakeService{fail: true}
	r := newResolver(t, svc)

	got := r.Resolve(context.Background(), fileref.FileReference{
		FileID:      "f1",
		DownloadURL: "https://files.example/f1?sig=old",
	})
	require.Equal(t, "f1", got.FileID)
	require.Equal(t, "https://files.example/f1?sig=old", got.DownloadURL)
}

func TestResolve_FailureFallsBackToStoredURL(t *testing.T) {
	svc := &fakeService{}
	r := newResolver(t, svc)

	fresh := r.Resolve(context.Background(), fileref.FileReference{FileID: "f1"})
	require.NotEmpty(t, fresh.DownloadURL)

	svc.setFail(true)
	got := r.Resolve(context.Background(), fileref.FileReference{FileID: "f1"})
	require.Equal(t, fresh.DownloadURL, got.DownloadURL, "stored resolution serves as fallback")
}

func TestResolve_NoFileIDPassesThrough(t *testing.T) {
	svc := &fakeService{}
	r := newResolver(t, svc)

	ref := fileref.FileReference{DownloadURL: "https://files.example/direct"}
	require.Equal(t, ref, r.Resolve(context.Background(), ref))
	require.Zero(t, svc.issued.Load(), "nothing to resolve without a file ID")
}

func TestResolve_ConcurrentCallsDeduplicated(t *testing.T) {
	svc := &fakeService{block: make(chan struct{})}
	r := newResolver(t, svc)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]fileref.FileReference, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), fileref.FileReference{FileID: "f1"})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(svc.block)
	wg.Wait()

	require.Equal(t, int64(1), svc.issued.Load(), "concurrent resolutions share one fetch")
	for _, got := range results {
		require.Equal(t, results[0].DownloadURL, got.DownloadURL)
	}
}

func TestUpload_RegistersAndResolves(t *testing.T) {
	svc := &fakeService{}
	r := newResolver(t, svc)

	ref, err := r.Upload(context.Background(), []byte("note body"))
	require.NoError(t, err)
	require.Equal(t, "file-1", ref.FileID)
	require.NotEmpty(t, ref.DownloadURL)

	latest, ok := r.Latest()
	require.True(t, ok)
	require.Equal(t, ref, latest)
}

func TestLatest_ConvergesToMostRecentCall(t *testing.T) {
	svc := &fakeService{}
	r := newResolver(t, svc)

	r.Resolve(context.Background(), fileref.FileReference{FileID: "upload"})
	toolRef := r.Resolve(context.Background(), fileref.FileReference{FileID: "tool-result"})

	latest, ok := r.Latest()
	require.True(t, ok)
	require.Equal(t, toolRef.FileID, latest.FileID, "later call wins display state")
}

func TestNewResolver_Validation(t *testing.T) {
	store, err := memory.New(4)
	require.NoError(t, err)
	defer store.Close()

	_, err = fileref.NewResolver(nil, store)
	require.Error(t, err)

	_, err = fileref.NewResolver(&fakeService{}, nil)
	require.Error(t, err)
}
