package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"techpulse/internal/domain/entity"
)

// HTML scrapes a listing page with the CSS selectors in the source's
// scraper configuration.
type HTML struct{ base }

// NewHTML creates a listing page source.
func NewHTML(spec entity.SourceSpec, client *http.Client) *HTML {
	return &HTML{base{spec: spec, client: client}}
}

// Fetch implements Source.
func (h *HTML) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	config := h.spec.Scraper
	if config == nil || config.ItemSelector == "" || config.TitleSelector == "" {
		return nil, fmt.Errorf("source %s: scraper selectors not configured", h.spec.Name)
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	body, err := h.get(ctx, h.spec.URL, "text/html")
	if err != nil {
		return nil, fmt.Errorf("fetch HTML failed: %w", err)
	}
	defer func() { _ = body.Close() }()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	records := h.extract(doc, config)
	if len(records) == 0 {
		return nil, fmt.Errorf("no items found with selector: %s", config.ItemSelector)
	}
	return records, nil
}

func (h *HTML) extract(doc *goquery.Document, config *entity.ScraperConfig) []entity.NormalizedRecord {
	var records []entity.NormalizedRecord
	doc.Find(config.ItemSelector).EachWithBreak(func(i int, item *goquery.Selection) bool {
		if len(records) >= h.limit() {
			return false
		}

		title := strings.TrimSpace(item.Find(config.TitleSelector).First().Text())
		if title == "" {
			slog.Debug("skipping item with empty title",
				slog.String("source", h.spec.Name), slog.Int("index", i))
			return true
		}

		var itemURL string
		if config.URLSelector != "" {
			if href, ok := item.Find(config.URLSelector).First().Attr("href"); ok {
				itemURL = makeAbsoluteURL(strings.TrimSpace(href), config.URLPrefix)
			}
		}

		var summary string
		if config.SummarySelector != "" {
			summary = strings.TrimSpace(item.Find(config.SummarySelector).First().Text())
		}

		var date time.Time
		if config.DateSelector != "" {
			date = parseDate(strings.TrimSpace(item.Find(config.DateSelector).First().Text()), config.DateFormat)
		}

		records = append(records, entity.NormalizedRecord{
			ID:         h.recordID(len(records)),
			Title:      title,
			Summary:    summary,
			Date:       date,
			URL:        itemURL,
			Origin:     h.origin(),
			Attributes: map[string]string{"source": h.spec.Name},
		})
		return true
	})
	return records
}

// parseDate parses with the configured layout first, then the common ones.
// Unparseable dates yield the zero time.
func parseDate(s, layout string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return parseTime(s)
}

// makeAbsoluteURL resolves a relative link against prefix.
func makeAbsoluteURL(u, prefix string) string {
	if u == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	if prefix == "" {
		return u
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(u, "/")
}
