package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"techpulse/internal/domain/entity"
)

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrNoCompleter is returned by a generated source without a text generator.
var ErrNoCompleter = errors.New("no text generation provider configured")

const generatedTimeout = 60 * time.Second

// Generated asks a language model for records. Output is parsed as a JSON
// array; records carry the ai-generated origin.
type Generated struct {
	spec      entity.SourceSpec
	completer Completer
	now       func() time.Time
}

// NewGenerated creates a generated source for spec.Resource.
func NewGenerated(spec entity.SourceSpec, c Completer) *Generated {
	return &Generated{spec: spec, completer: c, now: time.Now}
}

// Spec implements Source.
func (g *Generated) Spec() entity.SourceSpec { return g.spec }

// Fetch implements Source.
func (g *Generated) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	if g.completer == nil {
		return nil, ErrNoCompleter
	}
	timeout := g.spec.Timeout
	if timeout <= 0 {
		timeout = generatedTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := g.spec.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	today := g.now().UTC()
	var prompt string
	switch g.spec.Resource {
	case entity.ResourceNews:
		prompt = newsPrompt(today, limit)
	case entity.ResourceHackathons:
		prompt = hackathonPrompt(today, limit)
	default:
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownResource, g.spec.Resource)
	}

	text, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", g.spec.Resource, err)
	}

	var records []entity.NormalizedRecord
	if g.spec.Resource == entity.ResourceNews {
		records, err = parseGeneratedNews(text)
	} else {
		records, err = parseGeneratedHackathons(text)
	}
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[:limit]
	}
	for i := range records {
		records[i].ID = fmt.Sprintf("%s-%d", g.spec.Name, i+1)
		records[i].Origin = entity.OriginAIGenerated
	}
	return records, nil
}

func newsPrompt(today time.Time, n int) string {
	date := today.Format("2006-01-02")
	return fmt.Sprintf(`Generate %d realistic, current tech news articles for %s.
Focus on: AI, Web Development, Cloud Computing, Cybersecurity, Startups, Programming Languages, DevOps.

Return ONLY a valid JSON array with this exact structure (no markdown, no code blocks):
[{"title": "headline, max 80 chars", "summary": "2-3 sentence summary", "date": "%s", "url": "https://techcrunch.com", "category": "AI"}]

For "url" use the main page of one of: https://techcrunch.com, https://www.theverge.com/tech,
https://www.wired.com/category/tech/, https://arstechnica.com/, https://venturebeat.com/.`, n, date, date)
}

func hackathonPrompt(today time.Time, n int) string {
	end := today.AddDate(0, 3, 0)
	return fmt.Sprintf(`Generate %d realistic upcoming hackathons in India between %s and %s.
Include online and offline events in major cities and themes such as AI/ML, FinTech, HealthTech and Sustainability.

Return ONLY a valid JSON array with this exact structure (no markdown, no code blocks):
[{"name": "Hackathon name", "date": "YYYY-MM-DD", "endDate": "YYYY-MM-DD", "status": "Upcoming",
"venueType": "online", "city": "City", "state": "State", "theme": "Theme", "prizePool": "₹5 Lakhs",
"organizer": "Organization", "registrationLink": "https://unstop.com/hackathons", "description": "1-2 sentences"}]`,
		n, today.Format("2006-01-02"), end.Format("2006-01-02"))
}

// stripCodeFence removes a surrounding markdown code block, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "["), strings.LastIndex(s, "]"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

func parseGeneratedNews(text string) ([]entity.NormalizedRecord, error) {
	var items []struct {
		Title    string `json:"title"`
		Summary  string `json:"summary"`
		Date     string `json:"date"`
		URL      string `json:"url"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &items); err != nil {
		return nil, fmt.Errorf("parse generated news: %w", err)
	}
	records := make([]entity.NormalizedRecord, 0, len(items))
	for _, it := range items {
		attrs := map[string]string{"source": "ai"}
		if it.Category != "" {
			attrs["category"] = it.Category
		}
		records = append(records, entity.NormalizedRecord{
			Title:      it.Title,
			Summary:    it.Summary,
			Date:       parseTime(it.Date),
			URL:        it.URL,
			Attributes: attrs,
		})
	}
	return records, nil
}

func parseGeneratedHackathons(text string) ([]entity.NormalizedRecord, error) {
	var items []struct {
		Name             string `json:"name"`
		Date             string `json:"date"`
		EndDate          string `json:"endDate"`
		Status           string `json:"status"`
		VenueType        string `json:"venueType"`
		City             string `json:"city"`
		State            string `json:"state"`
		Theme            string `json:"theme"`
		PrizePool        string `json:"prizePool"`
		Organizer        string `json:"organizer"`
		RegistrationLink string `json:"registrationLink"`
		Description      string `json:"description"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &items); err != nil {
		return nil, fmt.Errorf("parse generated hackathons: %w", err)
	}
	records := make([]entity.NormalizedRecord, 0, len(items))
	for _, it := range items {
		venueType := VenueOffline
		if strings.EqualFold(it.VenueType, "online") {
			venueType = VenueOnline
		}
		records = append(records, entity.NormalizedRecord{
			Title:   it.Name,
			Summary: it.Description,
			Date:    parseTime(it.Date),
			URL:     it.RegistrationLink,
			Attributes: map[string]string{
				"organizer":  it.Organizer,
				"status":     firstNonEmpty(it.Status, StatusUpcoming),
				"prize":      firstNonEmpty(it.PrizePool, "TBD"),
				"deadline":   firstNonEmpty(it.EndDate, "TBD"),
				"venue_type": venueType,
				"city":       firstNonEmpty(it.City, defaultCity),
				"state":      firstNonEmpty(it.State, defaultState),
				"theme":      it.Theme,
				"source":     "ai",
			},
		})
	}
	return records, nil
}
