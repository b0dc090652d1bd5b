package source

import (
	"context"
	"net/http"

	"github.com/mmcdole/gofeed"

	"techpulse/internal/domain/entity"
)

// RSS reads an RSS or Atom feed with gofeed.
type RSS struct{ base }

// NewRSS creates a feed source.
func NewRSS(spec entity.SourceSpec, client *http.Client) *RSS {
	return &RSS{base{spec: spec, client: client}}
}

// Fetch implements Source.
func (r *RSS) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fp := gofeed.NewParser()
	fp.UserAgent = r.userAgent()
	fp.Client = r.client

	feed, err := fp.ParseURLWithContext(r.spec.URL, ctx)
	if err != nil {
		return nil, err
	}

	items := feed.Items
	if len(items) > r.limit() {
		items = items[:r.limit()]
	}
	records := make([]entity.NormalizedRecord, 0, len(items))
	for i, it := range items {
		rec := entity.NormalizedRecord{
			ID:         r.recordID(i),
			Title:      it.Title,
			Summary:    it.Description,
			URL:        it.Link,
			Origin:     r.origin(),
			Attributes: map[string]string{"source": firstNonEmpty(feed.Title, r.spec.Name)},
		}
		if it.PublishedParsed != nil {
			rec.Date = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			rec.Date = *it.UpdatedParsed
		}
		if len(it.Authors) > 0 && it.Authors[0] != nil && it.Authors[0].Name != "" {
			rec.Attributes["author"] = it.Authors[0].Name
		}
		records = append(records, rec)
	}
	return records, nil
}
