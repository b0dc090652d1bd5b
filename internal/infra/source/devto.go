package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"techpulse/internal/domain/entity"
)

// DevToDefaultURL lists the week's top articles.
const DevToDefaultURL = "https://dev.to/api/articles?top=7"

type devToArticle struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at"`
	TagList     []string `json:"tag_list"`
	ReadingTime int      `json:"reading_time_minutes"`
	User        struct {
		Name string `json:"name"`
	} `json:"user"`
}

// DevTo reads articles from the dev.to public API. When the configured query
// returns nothing it retries once against the unfiltered latest list.
type DevTo struct{ base }

// NewDevTo creates a dev.to source.
func NewDevTo(spec entity.SourceSpec, client *http.Client) *DevTo {
	if spec.URL == "" {
		spec.URL = DevToDefaultURL
	}
	return &DevTo{base{spec: spec, client: client}}
}

// Fetch implements Source.
func (d *DevTo) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var articles []devToArticle
	if err := d.getJSON(ctx, d.spec.URL, &articles); err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		if latest := latestURL(d.spec.URL); latest != d.spec.URL {
			if err := d.getJSON(ctx, latest, &articles); err != nil {
				return nil, err
			}
		}
	}

	if len(articles) > d.limit() {
		articles = articles[:d.limit()]
	}
	records := make([]entity.NormalizedRecord, 0, len(articles))
	for i, a := range articles {
		attrs := map[string]string{"source": "dev.to"}
		if a.User.Name != "" {
			attrs["author"] = a.User.Name
		}
		if len(a.TagList) > 0 {
			attrs["tags"] = strings.Join(a.TagList, ",")
		}
		records = append(records, entity.NormalizedRecord{
			ID:         d.recordID(i),
			Title:      a.Title,
			Summary:    firstNonEmpty(a.Description, a.Title),
			Date:       parseTime(a.PublishedAt),
			URL:        a.URL,
			Origin:     d.origin(),
			Attributes: attrs,
		})
	}
	return records, nil
}

// latestURL drops the query string so the API returns its default listing.
func latestURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
