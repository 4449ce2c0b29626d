package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedglue/feedglue/app/cfg"
	"github.com/feedglue/feedglue/app/database"
	"github.com/feedglue/feedglue/app/feed"
	"github.com/feedglue/feedglue/app/mediacache"
	"github.com/feedglue/feedglue/app/update"
)

func NewHandler(registry *feed.Registry, runRepo database.RunRepository,
	itemRepo database.ItemRepository, media *mediacache.Store,
	orchestrator *update.Orchestrator) *Handler {
	return &Handler{
		registry:     registry,
		runRepo:      runRepo,
		itemRepo:     itemRepo,
		media:        media,
		orchestrator: orchestrator,
		baseURL:      strings.TrimSuffix(cfg.Get().BaseUrl, "/"),
	}
}

// GetFeed serves one node's composed items with rendered bodies. Items
// whose rendering fails are dropped from the response, never served
// half-rendered.
func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")

	node, ok := h.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	items, err := node.Items(c.Request.Context())
	if err != nil {
		slog.Error("Failed to read feed items", "namespace", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	rendered := make([]renderedItem, 0, len(items))
	for _, item := range items {
		body, err := node.Render(c.Request.Context(), item)
		if err != nil {
			slog.Error("Failed to render item", "namespace", name, "external_id", item.ExternalID, "error", err)
			continue
		}

		rendered = append(rendered, renderedItem{
			ID:          item.ExternalID,
			Title:       item.Title,
			Author:      item.Author,
			Link:        item.Link,
			PublishedAt: item.PublishedAt.UTC().Format(time.RFC3339),
			Body:        h.absolutizeMedia(body),
		})
	}

	c.Header("X-Feed-Items", strconv.Itoa(len(rendered)))
	c.Header("X-Feed-Name", name)

	c.JSON(http.StatusOK, feedResponse{
		Namespace: name,
		Title:     node.Title(),
		Items:     rendered,
	})
}

// absolutizeMedia rewrites relative media references into absolute URLs
// when a public base URL is configured, so feed readers can fetch cached
// blobs from anywhere.
func (h *Handler) absolutizeMedia(body string) string {
	if h.baseURL == "" {
		return body
	}
	return strings.ReplaceAll(body, `src="media/`, `src="`+h.baseURL+`/media/`)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"feeds":     h.registry.Count(),
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"feeds": h.registry.Count(),
	}

	items := 0
	for _, node := range h.registry.All() {
		if count, err := h.itemRepo.GetItemCount(node.Namespace()); err == nil {
			items += count
		}
	}
	stats["items"] = items

	if cached, failed, err := h.media.Stats(); err == nil {
		stats["media"] = map[string]int{
			"cached": cached,
			"failed": failed,
		}
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	nodes := h.registry.All()

	feeds := make([]map[string]interface{}, 0, len(nodes))

	for _, node := range nodes {
		ns := node.Namespace()

		feedInfo := map[string]interface{}{
			"namespace": ns,
			"title":     node.Title(),
			"schedule":  node.Schedule(),
			"enabled":   node.Enabled(),
			"sources":   node.Sources(),
		}

		if meta, err := h.runRepo.Get(ns); err == nil && meta != nil {
			feedInfo["locked"] = meta.Locked
			feedInfo["last_run"] = meta.LastRun
			if meta.LastError != "" {
				feedInfo["last_error"] = meta.LastError
			}
		}

		if count, err := h.itemRepo.GetItemCount(ns); err == nil {
			feedInfo["item_count"] = count
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

// APIRefreshFeed forces one node's update, bypassing its schedule and
// lock. Only the named node runs; dependents stay on their own
// schedules.
func (h *Handler) APIRefreshFeed(c *gin.Context) {
	name := c.Param("name")

	node, ok := h.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	outcome := h.orchestrator.RunNode(c.Request.Context(), node, true)
	if outcome.Status == update.StatusFailed {
		slog.Error("Forced refresh failed", "namespace", name, "error", outcome.Err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Refresh failed",
			"details": outcome.Err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"status":   outcome.Status,
		"duration": outcome.Duration.String(),
	})
}

func (h *Handler) APILockFeed(c *gin.Context) {
	h.setLocked(c, true)
}

func (h *Handler) APIUnlockFeed(c *gin.Context) {
	h.setLocked(c, false)
}

func (h *Handler) setLocked(c *gin.Context, locked bool) {
	name := c.Param("name")

	var err error
	if locked {
		err = h.orchestrator.Lock(name)
	} else {
		err = h.orchestrator.Unlock(name)
	}

	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "locked": locked})
}

func (h *Handler) APIRepair(c *gin.Context) {
	if err := h.orchestrator.Repair(); err != nil {
		slog.Error("Repair failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// APIForgetMedia drops a failure marker (or stored blob) so the next
// update retries the download.
func (h *Handler) APIForgetMedia(c *gin.Context) {
	hash := c.Param("hash")

	if err := h.media.Forget(hash); err != nil {
		slog.Error("Failed to forget media entry", "url_hash", hash, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
