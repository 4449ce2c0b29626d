package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
)

const filterPromptTemplate = `Please take a look at the following bit of content from a feed:

Title: %s
Author: %s
URL: %s
Posted time: %s
Content: %s

Decide if the post above is relevant based on the criteria expressed below:

"%s"

Is this content relevant? Say 'yes' if the post is relevant, 'no' if it is not.
Don't say anything else.`

// Classifier answers a yes/no relevance question about one item.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (include bool, tokensUsed int, err error)
}

// FilterNode gates one upstream namespace through an AI relevance check.
// Verdicts are cached per item and never re-asked; a classification
// failure skips that item and leaves it eligible for the next pass.
type FilterNode struct {
	baseNode
	source       string
	prompt       string
	contentLimit int
	limit        int

	itemRepo    database.ItemRepository
	verdictRepo database.VerdictRepository
	classifier  Classifier
	now         func() time.Time
}

func NewFilterNode(cfg *config.NodeConfig, itemRepo database.ItemRepository,
	verdictRepo database.VerdictRepository, classifier Classifier) *FilterNode {
	return &FilterNode{
		baseNode: baseNode{
			name:     cfg.Name,
			title:    cfg.Node.Title,
			schedule: cfg.Settings.Schedule,
			enabled:  cfg.Settings.IsEnabled(),
		},
		source:       cfg.Filter.Source,
		prompt:       cfg.Filter.Prompt,
		contentLimit: cfg.Filter.ContentLimit,
		limit:        cfg.Settings.Limit,
		itemRepo:     itemRepo,
		verdictRepo:  verdictRepo,
		classifier:   classifier,
		now:          time.Now,
	}
}

func (n *FilterNode) Sources() []string {
	return []string{n.source}
}

func (n *FilterNode) Update(ctx context.Context, force bool) error {
	items, err := n.itemRepo.GetItems(n.source, n.limit)
	if err != nil {
		return err
	}

	checked := 0
	for _, item := range items {
		verdict, err := n.verdictRepo.Get(n.name, item.ExternalID)
		if err != nil {
			return err
		}
		if verdict != nil {
			continue
		}

		include, tokens, err := n.classifier.Classify(ctx, n.formatPrompt(item))
		if err != nil {
			slog.Warn("Classification failed, skipping item", "namespace", n.name,
				"item", item.ExternalID, "error", err)
			continue
		}

		err = n.verdictRepo.Put(database.FilterVerdict{
			Namespace:  n.name,
			ExternalID: item.ExternalID,
			Include:    include,
			TokensUsed: tokens,
			CheckedAt:  n.now().UTC(),
		})
		if err != nil {
			return err
		}

		checked++
		slog.Info("Item classified", "namespace", n.name, "item", item.ExternalID, "include", include)
	}

	if checked > 0 {
		slog.Debug("Filter pass complete", "namespace", n.name, "classified", checked)
	}

	return nil
}

// Items returns the upstream items the classifier voted to include.
// Items without a verdict yet are held back until classified.
func (n *FilterNode) Items(ctx context.Context) ([]database.Item, error) {
	items, err := n.itemRepo.GetItems(n.source, n.limit)
	if err != nil {
		return nil, err
	}

	var included []database.Item
	for _, item := range items {
		verdict, err := n.verdictRepo.Get(n.name, item.ExternalID)
		if err != nil {
			return nil, err
		}
		if verdict != nil && verdict.Include {
			included = append(included, item)
		}
	}

	return included, nil
}

func (n *FilterNode) Render(ctx context.Context, item database.Item) (string, error) {
	return item.Body, nil
}

func (n *FilterNode) formatPrompt(item database.Item) string {
	text := htmlToText(item.Body)
	if runes := []rune(text); len(runes) > n.contentLimit {
		text = string(runes[:n.contentLimit])
	}

	return fmt.Sprintf(filterPromptTemplate,
		item.Title, item.Author, item.Link,
		item.PublishedAt.UTC().Format("2006-01-02 15:04 MST"),
		text, n.prompt)
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}
