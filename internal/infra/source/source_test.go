package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techpulse/internal/domain/entity"
	"techpulse/internal/resilience/circuitbreaker"
	"techpulse/internal/resilience/retry"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestDevTo_Fetch(t *testing.T) {
	var gotUA string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		writeJSON(w, []map[string]any{
			{"title": "Go 1.25 released", "description": "What's new", "url": "https://dev.to/a", "published_at": "2026-10-01T10:00:00Z", "tag_list": []string{"go", "release"}},
			{"title": "No description", "url": "https://dev.to/b", "published_at": "2026-10-02T10:00:00Z"},
			{"title": "Over the limit", "url": "https://dev.to/c"},
		})
	})

	src := NewDevTo(entity.SourceSpec{Name: "devto", Resource: entity.ResourceNews, URL: srv.URL + "/api/articles?top=7", Limit: 2}, srv.Client())
	records, err := src.Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "devto-1", records[0].ID)
	assert.Equal(t, "What's new", records[0].Summary)
	assert.Equal(t, "go,release", records[0].Attributes["tags"])
	assert.Equal(t, entity.UpstreamOrigin("devto"), records[0].Origin)
	assert.Equal(t, 2026, records[0].Date.Year())
	assert.Equal(t, "No description", records[1].Summary, "summary falls back to title")
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestDevTo_FallsBackToLatest(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, []map[string]any{{"title": "Latest", "url": "https://dev.to/l"}})
	})

	src := NewDevTo(entity.SourceSpec{Name: "devto", URL: srv.URL + "/api/articles?top=7"}, srv.Client())
	records, err := src.Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Latest", records[0].Title)
}

func TestDevTo_Non2xxIsHTTPError(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := NewDevTo(entity.SourceSpec{Name: "devto", URL: srv.URL}, srv.Client()).Fetch(context.Background())

	var httpErr *retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.True(t, retry.IsRetryable(err))
}

func TestDevTo_MalformedPayload(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":`))
	})

	_, err := NewDevTo(entity.SourceSpec{Name: "devto", URL: srv.URL}, srv.Client()).Fetch(context.Background())
	assert.ErrorContains(t, err, "decode devto payload")
}

func TestUnstop_Fetch(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"data":[
			{"title":"AI Hack Day","organisation_name":"IIT Bombay","status":"open","public_url":"ai-hack","end_date":"2026-11-01","displayed_location":{"location":"Navi Mumbai, Maharashtra"},"prizes":[{"type":"cash","amount":50000}]},
			{"title":"Web3 Sprint","status":"closed","regnRequirements":{"url":"https://reg.example/w3"},"location":"online","prizes":"25,000"},
			{"name":"Hybrid Jam","location":"Hybrid - Pune","prizes":{"total":"1 Lakh"}}
		]}}`))
	})

	records, err := NewUnstop(entity.SourceSpec{Name: "unstop", URL: srv.URL}, srv.Client()).Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, "AI Hack Day", first.Title)
	assert.Equal(t, StatusOpen, first.Attributes["status"])
	assert.Equal(t, "https://unstop.com/ai-hack", first.URL)
	assert.Equal(t, "₹50000", first.Attributes["prize"])
	assert.Equal(t, VenueOffline, first.Attributes["venue_type"])
	assert.Equal(t, "Navi Mumbai", first.Attributes["city"])
	assert.Equal(t, "Maharashtra", first.Attributes["state"])
	assert.True(t, IsOpen(first))

	second := records[1]
	assert.Equal(t, StatusUpcoming, second.Attributes["status"])
	assert.Equal(t, "https://reg.example/w3", second.URL)
	assert.Equal(t, "₹25,000", second.Attributes["prize"])
	assert.Equal(t, VenueOnline, second.Attributes["venue_type"])
	assert.Equal(t, "Unknown Organizer", second.Attributes["organizer"])

	third := records[2]
	assert.Equal(t, "Hybrid Jam", third.Title)
	assert.Equal(t, VenueHybrid, third.Attributes["venue_type"])
	assert.Equal(t, "₹1 Lakh", third.Attributes["prize"])
}

func TestDevfolio_Fetch(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hackathons":[
			{"name":"ETHIndia","slug":"ethindia","status":"UPCOMING","prize_pool":100000,"is_online":false,"city":"Bengaluru","state":"Karnataka"},
			{"name":"Remote Hack","slug":"remote","status":"OPEN","prize_pool":"10 lakh","is_online":true}
		]}`))
	})

	records, err := NewDevfolio(entity.SourceSpec{Name: "devfolio", URL: srv.URL}, srv.Client()).Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "https://devfolio.co/hackathons/ethindia", records[0].URL)
	assert.Equal(t, StatusUpcoming, records[0].Attributes["status"])
	assert.Equal(t, "₹100000", records[0].Attributes["prize"])
	assert.Equal(t, VenueOffline, records[0].Attributes["venue_type"])
	assert.Equal(t, "Bengaluru", records[0].Attributes["city"])
	assert.Equal(t, VenueOnline, records[1].Attributes["venue_type"])
	assert.Equal(t, "₹10 lakh", records[1].Attributes["prize"])
	assert.Equal(t, defaultState, records[1].Attributes["state"])
}

func TestHackerEarth_FiltersCountryAndType(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":[
			{"title":"India Hack","type":"hackathon","country":"India","status":"ONGOING","challenge_url":"/challenges/hackathon/india-hack/"},
			{"title":"Hiring Challenge","type":"hiring","country":"India"},
			{"title":"US Hack","type":"hackathon","country":"USA"}
		]}`))
	})

	records, err := NewHackerEarth(entity.SourceSpec{Name: "hackerearth", URL: srv.URL}, srv.Client()).Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "India Hack", records[0].Title)
	assert.Equal(t, "https://www.hackerearth.com/challenges/hackathon/india-hack/", records[0].URL)
	assert.Equal(t, StatusOpen, records[0].Attributes["status"])
	assert.Equal(t, "hackerearth-1", records[0].ID)
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Go Blog</title>
<item><title>Range over func</title><link>https://go.dev/blog/range</link><description>Iterators</description><pubDate>Mon, 05 Aug 2024 00:00:00 GMT</pubDate></item>
<item><title>Second</title><link>https://go.dev/blog/2</link></item>
</channel></rss>`

func TestRSS_Fetch(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeed))
	})

	records, err := NewRSS(entity.SourceSpec{Name: "goblog", Kind: entity.SourceKindRSS, URL: srv.URL}, srv.Client()).Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Range over func", records[0].Title)
	assert.Equal(t, "Iterators", records[0].Summary)
	assert.Equal(t, "Go Blog", records[0].Attributes["source"])
	assert.Equal(t, 2024, records[0].Date.Year())
	assert.True(t, records[1].Date.IsZero())
}

const testListing = `<html><body>
<div class="card"><h2>Hack the Mountains</h2><a href="/events/htm">details</a><p class="desc">Himalayan hackathon</p><span class="date">2026-12-01</span></div>
<div class="card"><h2></h2><a href="/events/empty">no title</a></div>
<div class="card"><h2>Code Sprint</h2><a href="https://other.example/sprint">go</a></div>
</body></html>`

func TestHTML_Fetch(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(testListing))
	})

	spec := entity.SourceSpec{
		Name: "listing",
		Kind: entity.SourceKindHTML,
		URL:  srv.URL,
		Scraper: &entity.ScraperConfig{
			ItemSelector:    "div.card",
			TitleSelector:   "h2",
			SummarySelector: "p.desc",
			URLSelector:     "a",
			DateSelector:    "span.date",
			URLPrefix:       "https://events.example",
		},
	}
	records, err := NewHTML(spec, srv.Client()).Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Hack the Mountains", records[0].Title)
	assert.Equal(t, "https://events.example/events/htm", records[0].URL)
	assert.Equal(t, "Himalayan hackathon", records[0].Summary)
	assert.Equal(t, time.December, records[0].Date.Month())
	assert.Equal(t, "https://other.example/sprint", records[1].URL)
	assert.Equal(t, "listing-2", records[1].ID)
}

func TestHTML_NoItems(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	})
	spec := entity.SourceSpec{Name: "listing", URL: srv.URL, Scraper: &entity.ScraperConfig{ItemSelector: "li", TitleSelector: "a"}}

	_, err := NewHTML(spec, srv.Client()).Fetch(context.Background())
	assert.ErrorContains(t, err, "no items found")
}

type fakeCompleter struct {
	text   string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

func TestGenerated_News(t *testing.T) {
	c := &fakeCompleter{text: "```json\n[{\"title\":\"AI chips\",\"summary\":\"s\",\"date\":\"2026-10-19\",\"url\":\"https://techcrunch.com\",\"category\":\"AI\"}]\n```"}
	g := NewGenerated(entity.SourceSpec{Name: "ai-news", Resource: entity.ResourceNews, Limit: 12}, c)

	records, err := g.Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entity.OriginAIGenerated, records[0].Origin)
	assert.Equal(t, "ai-news-1", records[0].ID)
	assert.Equal(t, "AI", records[0].Attributes["category"])
	assert.Contains(t, c.prompt, "Generate 12 realistic")
}

func TestGenerated_Hackathons(t *testing.T) {
	c := &fakeCompleter{text: `Here you go: [{"name":"Green Hack","venueType":"online","prizePool":"₹2 Lakhs","registrationLink":"https://unstop.com/hackathons"}]`}
	g := NewGenerated(entity.SourceSpec{Name: "ai-hack", Resource: entity.ResourceHackathons}, c)

	records, err := g.Fetch(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, VenueOnline, records[0].Attributes["venue_type"])
	assert.Equal(t, StatusUpcoming, records[0].Attributes["status"])
}

func TestGenerated_Errors(t *testing.T) {
	spec := entity.SourceSpec{Name: "ai", Resource: entity.ResourceNews}

	_, err := NewGenerated(spec, nil).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoCompleter)

	_, err = NewGenerated(spec, &fakeCompleter{err: errors.New("rate limited")}).Fetch(context.Background())
	assert.ErrorContains(t, err, "rate limited")

	_, err = NewGenerated(spec, &fakeCompleter{text: "not json"}).Fetch(context.Background())
	assert.ErrorContains(t, err, "parse generated news")
}

func TestInferVenue(t *testing.T) {
	tests := []struct {
		location, organizer string
		want                venue
	}{
		{"", "", venue{VenueOnline, defaultCity, defaultState}},
		{"Virtual", "", venue{VenueOnline, defaultCity, defaultState}},
		{"Hybrid", "", venue{VenueHybrid, defaultCity, defaultState}},
		{"New Delhi, India", "", venue{VenueOffline, "New Delhi", "Delhi"}},
		{"Main campus auditorium", "NIT Warangal", venue{VenueOffline, "Warangal", "Telangana"}},
		{"Main campus auditorium", "Acme", venue{VenueOffline, defaultCity, defaultState}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inferVenue(tt.location, tt.organizer), "location %q", tt.location)
	}
}

func TestFactory_Build(t *testing.T) {
	f := NewFactory(nil, nil)

	src, err := f.Build(entity.SourceSpec{Name: "devto", Kind: entity.SourceKindDevTo, Resource: entity.ResourceNews})
	require.NoError(t, err)
	assert.Equal(t, DevToDefaultURL, src.Spec().URL)

	_, err = f.Build(entity.SourceSpec{Name: "x", Kind: "carrier-pigeon", Resource: entity.ResourceNews, URL: "https://x.example"})
	assert.Error(t, err)

	grouped, err := f.BuildAll(append(DefaultSpecs(), entity.SourceSpec{
		Name: "off", Kind: entity.SourceKindRSS, Resource: entity.ResourceNews, URL: "https://x.example/feed", Disabled: true,
	}))
	require.NoError(t, err)
	assert.Len(t, grouped[entity.ResourceNews], 1)
	require.Len(t, grouped[entity.ResourceHackathons], 3)
	assert.Equal(t, "unstop", grouped[entity.ResourceHackathons][0].Spec().Name)
}

type failingSource struct {
	calls int
}

func (f *failingSource) Spec() entity.SourceSpec { return entity.SourceSpec{Name: "flaky"} }
func (f *failingSource) Fetch(context.Context) ([]entity.NormalizedRecord, error) {
	f.calls++
	return nil, errors.New("upstream down")
}

func TestWithBreaker_OpensAfterFailures(t *testing.T) {
	inner := &failingSource{}
	cb := circuitbreaker.New(circuitbreaker.Config{
		Name: "test-flaky", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
		FailureThreshold: 0.5, MinRequests: 2,
	})
	src := WithBreaker(inner, cb)

	for i := 0; i < 2; i++ {
		_, err := src.Fetch(context.Background())
		assert.ErrorContains(t, err, "upstream down")
	}
	_, err := src.Fetch(context.Background())

	assert.True(t, circuitbreaker.IsRejection(err))
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "flaky", src.Spec().Name)
}
