package api

import (
	"github.com/feedglue/feedglue/app/database"
	"github.com/feedglue/feedglue/app/feed"
	"github.com/feedglue/feedglue/app/mediacache"
	"github.com/feedglue/feedglue/app/update"
)

type Handler struct {
	registry     *feed.Registry
	runRepo      database.RunRepository
	itemRepo     database.ItemRepository
	media        *mediacache.Store
	orchestrator *update.Orchestrator
	baseURL      string
}

// renderedItem is the JSON shape of one served feed item. Body is the
// node's rendered HTML, not the raw stored body.
type renderedItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Link        string `json:"link,omitempty"`
	PublishedAt string `json:"published_at"`
	Body        string `json:"body"`
}

type feedResponse struct {
	Namespace string         `json:"namespace"`
	Title     string         `json:"title"`
	Items     []renderedItem `json:"items"`
}
