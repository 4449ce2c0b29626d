package mediacache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedglue/feedglue/app/database"
)

func newTestStore(t *testing.T) (*Store, database.CacheRepository) {
	t.Helper()

	dataDir := t.TempDir()

	db, err := database.NewConnection(dataDir)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := database.NewCacheRepository(db)
	store, err := NewStore(repo, &http.Client{}, dataDir, "test-agent", 5*time.Second, 2)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	return store, repo
}

func TestResolve_DownloadsOnceThenServesBlob(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	store, _ := newTestStore(t)
	mediaURL := server.URL + "/pic.png"

	ref := store.Resolve(context.Background(), mediaURL)

	expected := "media/" + HashURL(mediaURL) + ".png"
	if ref != expected {
		t.Errorf("Expected local ref %q, got %q", expected, ref)
	}

	blobPath := filepath.Join(store.MediaDir(), HashURL(mediaURL)+".png")
	data, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("Expected committed blob: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("Blob content mismatch: %q", data)
	}

	// Second resolve hits the cache, not the network
	ref = store.Resolve(context.Background(), mediaURL)
	if ref != expected {
		t.Errorf("Expected stable local ref, got %q", ref)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected exactly 1 download, got %d", hits)
	}
}

func TestResolve_FailureMarkerSuppressesRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store, repo := newTestStore(t)
	mediaURL := server.URL + "/gone.jpg"

	ref := store.Resolve(context.Background(), mediaURL)
	if ref != mediaURL {
		t.Errorf("Expected original URL on failure, got %q", ref)
	}

	entry, err := repo.Get(HashURL(mediaURL))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if entry == nil || !entry.Failed {
		t.Fatalf("Expected persisted failure marker, got %+v", entry)
	}

	// Marker suppresses any further network attempt
	ref = store.Resolve(context.Background(), mediaURL)
	if ref != mediaURL {
		t.Errorf("Expected original URL from marker, got %q", ref)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", hits)
	}
}

func TestResolve_CancellationPersistsNoMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	store, repo := newTestStore(t)
	mediaURL := server.URL + "/pic.png"
	hash := HashURL(mediaURL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ref := store.Resolve(ctx, mediaURL); ref != mediaURL {
		t.Errorf("Expected original URL on cancellation, got %q", ref)
	}

	entry, err := repo.Get(hash)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if entry != nil {
		t.Fatalf("Expected no persisted entry after cancellation, got %+v", entry)
	}

	// A later resolve with a live context still downloads
	ref := store.Resolve(context.Background(), mediaURL)
	if ref != "media/"+hash+".png" {
		t.Errorf("Expected fresh download after cancellation, got %q", ref)
	}
}

func TestForget_MakesKeyRetryable(t *testing.T) {
	var status int32 = http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(atomic.LoadInt32(&status))
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	store, _ := newTestStore(t)
	mediaURL := server.URL + "/flaky.png"
	hash := HashURL(mediaURL)

	if ref := store.Resolve(context.Background(), mediaURL); ref != mediaURL {
		t.Fatalf("Expected failure on first attempt, got %q", ref)
	}

	if err := store.Forget(hash); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	atomic.StoreInt32(&status, http.StatusOK)

	ref := store.Resolve(context.Background(), mediaURL)
	if ref != "media/"+hash+".png" {
		t.Errorf("Expected fresh download after forget, got %q", ref)
	}
}

func TestForget_RemovesBlob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	store, repo := newTestStore(t)
	mediaURL := server.URL + "/pic.png"
	hash := HashURL(mediaURL)

	store.Resolve(context.Background(), mediaURL)

	blobPath := filepath.Join(store.MediaDir(), hash+".png")
	if _, err := os.Stat(blobPath); err != nil {
		t.Fatalf("Expected blob on disk: %v", err)
	}

	if err := store.Forget(hash); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if _, err := os.Stat(blobPath); !os.IsNotExist(err) {
		t.Error("Expected blob removed")
	}
	entry, _ := repo.Get(hash)
	if entry != nil {
		t.Errorf("Expected entry removed, got %+v", entry)
	}
}

func TestForget_UnknownKeyIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Forget("deadbeefdeadbeef"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPrefetchAll_DeduplicatesURLs(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	store, _ := newTestStore(t)
	mediaURL := server.URL + "/shared.png"

	err := store.PrefetchAll(context.Background(), []string{mediaURL, mediaURL, mediaURL})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("Expected 1 download for repeated URL, got %d", hits)
	}
}

func TestHashURL_StableAndShort(t *testing.T) {
	a := HashURL("https://example.com/image.jpg")
	b := HashURL("https://example.com/image.jpg")
	c := HashURL("https://example.com/other.jpg")

	if a != b {
		t.Errorf("Expected stable hash, got %q and %q", a, b)
	}
	if a == c {
		t.Error("Expected distinct hashes for distinct URLs")
	}
	if len(a) != 16 {
		t.Errorf("Expected 16 hex characters, got %d", len(a))
	}
}

func TestInferExtension(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		url         string
		expected    string
	}{
		{"from content type", "image/png", "https://example.com/x", ".png"},
		{"from url path", "", "https://example.com/photo.jpg", ".jpg"},
		{"fallback to url path", "", "https://example.com/photo.webp", ".webp"},
		{"unknown everywhere", "", "https://example.com/stream", ""},
		{"untrusted url extension", "", "https://example.com/page.html", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inferExtension(tt.contentType, tt.url)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
