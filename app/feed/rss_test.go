package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/feedglue/feedglue/app/config"
)

func rssConfig(name, url string) *config.NodeConfig {
	return &config.NodeConfig{
		Name:     name,
		Node:     config.NodeInfo{Type: config.NodeTypeRSS, Title: name},
		Settings: config.Settings{Limit: 12},
		RSS:      &config.RSSConfig{URL: url, Timeout: 5},
	}
}

const sampleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sample</title>
<item>
  <guid>https://example.com/posts/1</guid>
  <title>First post</title>
  <link>https://example.com/posts/1</link>
  <description>&lt;p&gt;Hello&lt;/p&gt;</description>
  <pubDate>Sun, 01 Mar 2026 08:00:00 GMT</pubDate>
</item>
<item>
  <guid>https://example.com/posts/2</guid>
  <title>Second post</title>
  <link>https://example.com/posts/2</link>
  <description>&lt;p&gt;World&lt;/p&gt;</description>
  <pubDate>Sun, 01 Mar 2026 09:00:00 GMT</pubDate>
</item>
</channel></rss>`

func TestRSSNode_StoresEntriesWithHashedIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	repo := newTestItemRepo(t)
	node := NewRSSNode(rssConfig("blog", server.URL), &http.Client{}, repo, "test-agent")

	if err := node.Update(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	items, err := node.Items(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	// Newest first
	if items[0].Title != "Second post" {
		t.Errorf("Expected newest first, got %q", items[0].Title)
	}

	expectedID := shortHash("https://example.com/posts/1")
	if items[1].ExternalID != expectedID {
		t.Errorf("Expected hashed guid %s, got %s", expectedID, items[1].ExternalID)
	}
	if len(items[1].ExternalID) != 16 {
		t.Errorf("Expected 16-char external id, got %d", len(items[1].ExternalID))
	}

	// The raw guid rides in the payload
	var payload rssPayload
	if err := json.Unmarshal([]byte(items[1].Payload), &payload); err != nil {
		t.Fatalf("Failed to parse payload: %v", err)
	}
	if payload.GUID != "https://example.com/posts/1" {
		t.Errorf("Expected raw guid in payload, got %q", payload.GUID)
	}
}

func TestRSSNode_UpdateIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	repo := newTestItemRepo(t)
	node := NewRSSNode(rssConfig("blog", server.URL), &http.Client{}, repo, "test-agent")

	if err := node.Update(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	first, _ := node.Items(context.Background())

	if err := node.Update(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	second, _ := node.Items(context.Background())
	if len(first) != len(second) {
		t.Fatalf("Expected identical item count, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ExternalID != second[i].ExternalID {
			t.Errorf("Position %d identity changed: %s vs %s", i, first[i].ExternalID, second[i].ExternalID)
		}
		if !first[i].DiscoveredAt.Equal(second[i].DiscoveredAt) {
			t.Errorf("Expected discovered_at stable across re-fetch, got %v vs %v",
				first[i].DiscoveredAt, second[i].DiscoveredAt)
		}
		if !first[i].UpdatedAt.Equal(second[i].UpdatedAt) {
			t.Errorf("Expected no write for unchanged entry, updated_at moved from %v to %v",
				first[i].UpdatedAt, second[i].UpdatedAt)
		}
	}
}

func TestRSSNode_ExtractedContentStaysIdempotent(t *testing.T) {
	article := "<html><head><title>First post</title></head><body><article><h1>First post</h1>" +
		strings.Repeat("<p>A long paragraph of readable article text that easily clears the "+
			"extraction threshold and stands in for real page content.</p>", 8) +
		"</article></body></html>"

	var articleHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&articleHits, 1)
		w.Write([]byte(article))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sample</title>
<item>
  <guid>post-1</guid>
  <title>First post</title>
  <link>` + server.URL + `/article</link>
  <description>Short summary</description>
  <pubDate>Sun, 01 Mar 2026 08:00:00 GMT</pubDate>
</item>
</channel></rss>`
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feedXML))
	})

	cfg := rssConfig("blog", server.URL+"/feed")
	cfg.RSS.ExtractContent = true

	repo := newTestItemRepo(t)
	node := NewRSSNode(cfg, &http.Client{}, repo, "test-agent")

	if err := node.Update(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	first, _ := node.Items(context.Background())
	if len(first) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(first))
	}
	if !strings.Contains(first[0].Body, "readable article text") {
		t.Fatalf("Expected extracted page content, got %q", first[0].Body)
	}

	if err := node.Update(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	second, _ := node.Items(context.Background())
	if second[0].Body != first[0].Body {
		t.Errorf("Expected extracted body preserved, got %q", second[0].Body)
	}
	if !second[0].UpdatedAt.Equal(first[0].UpdatedAt) {
		t.Errorf("Expected no write when feed body is unchanged, updated_at moved from %v to %v",
			first[0].UpdatedAt, second[0].UpdatedAt)
	}
	if atomic.LoadInt32(&articleHits) != 1 {
		t.Errorf("Expected exactly 1 page fetch, got %d", articleHits)
	}
}

func TestRSSNode_ClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	repo := newTestItemRepo(t)
	node := NewRSSNode(rssConfig("blog", server.URL), &http.Client{}, repo, "test-agent")

	err := node.Update(context.Background(), false)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	fetchErr, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("Expected *FetchError, got %T", err)
	}
	if !fetchErr.Permanent() {
		t.Error("Expected 410 to be permanent")
	}
	if fetchErr.StatusCode != http.StatusGone {
		t.Errorf("Expected status 410, got %d", fetchErr.StatusCode)
	}
}

func TestRSSNode_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	repo := newTestItemRepo(t)
	node := NewRSSNode(rssConfig("blog", server.URL), &http.Client{}, repo, "test-agent")

	err := node.Update(context.Background(), false)
	fetchErr, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("Expected *FetchError, got %T", err)
	}
	if fetchErr.Permanent() {
		t.Error("Expected 502 to be transient")
	}
}

func TestRSSNode_SendsUserAgent(t *testing.T) {
	var agent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	repo := newTestItemRepo(t)
	node := NewRSSNode(rssConfig("blog", server.URL), &http.Client{}, repo, "custom-agent/2.0")

	if err := node.Update(context.Background(), false); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got, _ := agent.Load().(string); got != "custom-agent/2.0" {
		t.Errorf("Expected custom user agent, got %q", got)
	}
}

func TestPickBody_KeepsLonger(t *testing.T) {
	if got := pickBody("short", "much longer stored body"); got != "much longer stored body" {
		t.Errorf("Expected stored body kept, got %q", got)
	}
	if got := pickBody("fresh and longer body", "old"); got != "fresh and longer body" {
		t.Errorf("Expected fresh body kept, got %q", got)
	}
}

func TestShortHash(t *testing.T) {
	a := shortHash("guid-1")
	if len(a) != 16 {
		t.Errorf("Expected 16 characters, got %d", len(a))
	}
	if a != shortHash("guid-1") {
		t.Error("Expected stable hash")
	}
	if a == shortHash("guid-2") {
		t.Error("Expected distinct hashes")
	}
}
