package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
)

// RSSNode fetches one RSS/Atom feed and stores its entries as canonical
// items. External identity is the entry GUID (falling back to the link),
// shortened to a hash; the raw GUID rides in the payload.
type RSSNode struct {
	baseNode
	url            string
	limit          int
	timeout        time.Duration
	extractContent bool

	httpClient *http.Client
	parser     *gofeed.Parser
	itemRepo   database.ItemRepository
	userAgent  string
}

type rssPayload struct {
	GUID       string   `json:"guid"`
	Categories []string `json:"categories,omitempty"`
	Enclosure  string   `json:"enclosure,omitempty"`
}

func NewRSSNode(cfg *config.NodeConfig, httpClient *http.Client, itemRepo database.ItemRepository, userAgent string) *RSSNode {
	return &RSSNode{
		baseNode: baseNode{
			name:     cfg.Name,
			title:    cfg.Node.Title,
			schedule: cfg.Settings.Schedule,
			enabled:  cfg.Settings.IsEnabled(),
		},
		url:            cfg.RSS.URL,
		limit:          cfg.Settings.Limit,
		timeout:        time.Duration(cfg.RSS.Timeout) * time.Second,
		extractContent: cfg.RSS.ExtractContent,
		httpClient:     httpClient,
		parser:         gofeed.NewParser(),
		itemRepo:       itemRepo,
		userAgent:      userAgent,
	}
}

func (n *RSSNode) Sources() []string {
	return nil
}

func (n *RSSNode) Update(ctx context.Context, force bool) error {
	data, err := n.fetch(ctx, n.url)
	if err != nil {
		return err
	}

	parsed, err := n.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := parsed.Items
	if n.limit > 0 && len(entries) > n.limit {
		entries = entries[:n.limit]
	}

	newCount := 0
	for _, entry := range entries {
		stored, err := n.storeEntry(ctx, entry)
		if err != nil {
			return err
		}
		if stored {
			newCount++
		}
	}

	slog.Debug("Source updated", "namespace", n.name, "total", len(entries), "new", newCount)
	return nil
}

func (n *RSSNode) storeEntry(ctx context.Context, entry *gofeed.Item) (bool, error) {
	guid := entry.GUID
	if guid == "" {
		guid = entry.Link
	}
	if guid == "" {
		return false, nil
	}
	externalID := shortHash(guid)

	body := entry.Content
	if body == "" {
		body = entry.Description
	}

	existing, err := n.itemRepo.GetItem(n.name, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing item: %w", err)
	}
	if existing == nil && n.extractContent && entry.Link != "" {
		if extracted := n.extract(ctx, entry.Link); extracted != "" {
			body = extracted
		}
	}

	payload, err := json.Marshal(rssPayload{
		GUID:       guid,
		Categories: entry.Categories,
		Enclosure:  enclosureURL(entry),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC()
	publishedAt := now
	if entry.PublishedParsed != nil {
		publishedAt = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		publishedAt = entry.UpdatedParsed.UTC()
	}

	discoveredAt := now
	if existing != nil {
		discoveredAt = existing.DiscoveredAt
		// Compare after body resolution so an entry whose stored body was
		// extracted from the linked page is still recognized as unchanged.
		body = pickBody(body, existing.Body)
		if body == existing.Body {
			return false, nil
		}
	}

	item := database.Item{
		Namespace:    n.name,
		ExternalID:   externalID,
		Title:        entry.Title,
		Author:       authorName(entry),
		Body:         body,
		Link:         entry.Link,
		Payload:      string(payload),
		PublishedAt:  publishedAt,
		DiscoveredAt: discoveredAt,
		UpdatedAt:    now,
	}

	if err := n.itemRepo.UpsertItem(item); err != nil {
		return false, err
	}

	return existing == nil, nil
}

func (n *RSSNode) Items(ctx context.Context) ([]database.Item, error) {
	return n.itemRepo.GetItems(n.name, n.limit)
}

func (n *RSSNode) Render(ctx context.Context, item database.Item) (string, error) {
	return item.Body, nil
}

func (n *RSSNode) fetch(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %s", resp.Status),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return data, nil
}

// extract fetches the linked page and pulls the readable article content.
// Extraction is best effort; any failure falls back to the feed body.
func (n *RSSNode) extract(ctx context.Context, link string) string {
	data, err := n.fetch(ctx, link)
	if err != nil {
		slog.Debug("Content extraction fetch failed", "namespace", n.name, "link", link, "error", err)
		return ""
	}

	pageURL, err := url.Parse(link)
	if err != nil {
		return ""
	}

	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		slog.Debug("Content extraction failed", "namespace", n.name, "link", link, "error", err)
		return ""
	}

	return article.Content
}

func authorName(entry *gofeed.Item) string {
	if len(entry.Authors) > 0 && entry.Authors[0] != nil {
		return entry.Authors[0].Name
	}
	if entry.Author != nil {
		return entry.Author.Name
	}
	return ""
}

func enclosureURL(entry *gofeed.Item) string {
	if len(entry.Enclosures) > 0 && entry.Enclosures[0] != nil {
		return entry.Enclosures[0].URL
	}
	return ""
}

// pickBody keeps the longer of the fresh and stored bodies so a re-seen
// entry whose feed carries a truncated summary does not clobber content
// extracted earlier.
func pickBody(fresh, stored string) string {
	if len(stored) > len(fresh) {
		return stored
	}
	return fresh
}
