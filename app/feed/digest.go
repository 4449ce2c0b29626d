package feed

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
)

// issueKeyFormat derives an issue's identity from its window start, so
// re-materializing a window always lands on the same item.
const issueKeyFormat = "200601021504"

// DigestNode partitions one upstream namespace's items into windows
// bounded by successive cron firings and materializes one issue item per
// non-empty window. Issues store (namespace, external_id) references to
// upstream items; the referenced content is resolved at render time.
type DigestNode struct {
	baseNode
	source     string
	limit      int
	backIssues int

	itemRepo database.ItemRepository
	now      func() time.Time
}

func NewDigestNode(cfg *config.NodeConfig, itemRepo database.ItemRepository) *DigestNode {
	return &DigestNode{
		baseNode: baseNode{
			name:     cfg.Name,
			title:    cfg.Node.Title,
			schedule: cfg.Settings.Schedule,
			enabled:  cfg.Settings.IsEnabled(),
		},
		source:     cfg.Digest.Source,
		limit:      cfg.Settings.Limit,
		backIssues: cfg.Digest.BackIssues,
		itemRepo:   itemRepo,
		now:        time.Now,
	}
}

func (n *DigestNode) Sources() []string {
	return []string{n.source}
}

// Update materializes the trailing backIssues windows. Walking backwards
// lets a pass that missed a firing (process down, long sleep) backfill
// the skipped window on the next run.
func (n *DigestNode) Update(ctx context.Context, force bool) error {
	end, err := gronx.PrevTickBefore(n.schedule, n.now().UTC(), true)
	if err != nil {
		return fmt.Errorf("failed to evaluate schedule: %w", err)
	}

	for i := 0; i < n.backIssues; i++ {
		start, err := gronx.PrevTickBefore(n.schedule, end, false)
		if err != nil {
			return fmt.Errorf("failed to evaluate schedule: %w", err)
		}

		if err := n.materialize(ctx, start, end); err != nil {
			return err
		}
		end = start
	}

	return nil
}

// materialize builds or refreshes the issue for [start, end). An empty
// window yields no item.
func (n *DigestNode) materialize(ctx context.Context, start, end time.Time) error {
	members, err := n.itemRepo.GetItemsInWindow(n.source, start, end)
	if err != nil {
		return fmt.Errorf("failed to read window: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	if n.limit > 0 && len(members) > n.limit {
		members = members[:n.limit]
	}

	externalID := "issue-" + start.UTC().Format(issueKeyFormat)

	existing, err := n.itemRepo.GetItem(n.name, externalID)
	if err != nil {
		return fmt.Errorf("failed to check existing issue: %w", err)
	}

	now := n.now().UTC()
	discoveredAt := now
	if existing != nil {
		discoveredAt = existing.DiscoveredAt
	}

	issue := database.Item{
		Namespace:    n.name,
		ExternalID:   externalID,
		Title:        fmt.Sprintf("Issue %s", end.UTC().Format("Mon, Jan 02 15:04")),
		Author:       n.title,
		Payload:      "{}",
		PublishedAt:  end.UTC(),
		DiscoveredAt: discoveredAt,
		UpdatedAt:    now,
	}

	if err := n.itemRepo.UpsertItem(issue); err != nil {
		return err
	}

	refs := make([]database.ItemRef, 0, len(members))
	for _, m := range members {
		refs = append(refs, database.ItemRef{
			RefNamespace:  m.Namespace,
			RefExternalID: m.ExternalID,
		})
	}
	if err := n.itemRepo.ReplaceRefs(n.name, externalID, refs); err != nil {
		return err
	}

	if existing == nil {
		slog.Info("Digest issue materialized", "namespace", n.name, "issue", externalID, "members", len(refs))
	}

	return nil
}

func (n *DigestNode) Items(ctx context.Context) ([]database.Item, error) {
	return n.itemRepo.GetItems(n.name, n.limit)
}

// Render resolves the issue's references and renders one section per
// member. A dangling reference is dropped from the output, never an
// error for the whole issue.
func (n *DigestNode) Render(ctx context.Context, item database.Item) (string, error) {
	refs, err := n.itemRepo.GetRefs(n.name, item.ExternalID)
	if err != nil {
		return "", err
	}

	// A div wrapper: parsers auto-close <p> at the first block element,
	// which would leave the sections outside the wrapper.
	var buf strings.Builder
	buf.WriteString("<div>")
	for _, ref := range refs {
		member, err := n.itemRepo.GetItem(ref.RefNamespace, ref.RefExternalID)
		if err != nil {
			return "", err
		}
		if member == nil {
			slog.Error("Missing digest reference", "namespace", n.name, "issue", item.ExternalID,
				"ref_namespace", ref.RefNamespace, "ref_id", ref.RefExternalID)
			continue
		}

		buf.WriteString("\n<section>\n")
		fmt.Fprintf(&buf, "    <a href=%q><h3>%s</h3></a>\n", member.Link, html.EscapeString(member.Title))
		fmt.Fprintf(&buf, "    <time>%s</time>\n", member.PublishedAt.UTC().Format("Mon, Jan 02 15:04"))
		fmt.Fprintf(&buf, "    <div>%s</div>\n", member.Body)
		buf.WriteString("    <hr>\n</section>\n")
	}
	buf.WriteString("</div>")

	return buf.String(), nil
}
