package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"techpulse/internal/domain/entity"
)

// Hackathon status values carried in the status attribute.
const (
	StatusOpen     = "Open"
	StatusUpcoming = "Upcoming"
)

// Default upstream endpoints for the hackathon listings.
const (
	UnstopDefaultURL      = "https://unstop.com/api/public/opportunity/search-result?opportunity=hackathons&per_page=10"
	DevfolioDefaultURL    = "https://api.devfolio.co/api/hackathons?page=1&per_page=10"
	HackerEarthDefaultURL = "https://www.hackerearth.com/chrome-extension/events/"
)

type hackathon struct {
	name      string
	organizer string
	status    string
	url       string
	prize     string
	deadline  string
	venue     venue
	source    string
}

func (b base) hackathonRecord(i int, h hackathon) entity.NormalizedRecord {
	return entity.NormalizedRecord{
		ID:    b.recordID(i),
		Title: h.name,
		Date:  parseTime(h.deadline),
		URL:   h.url,
		Summary: fmt.Sprintf("%s hackathon by %s, prize %s",
			h.venue.Type, firstNonEmpty(h.organizer, "unknown organizer"), h.prize),
		Origin: b.origin(),
		Attributes: map[string]string{
			"organizer":  h.organizer,
			"status":     h.status,
			"prize":      h.prize,
			"deadline":   firstNonEmpty(h.deadline, "TBD"),
			"venue_type": h.venue.Type,
			"city":       h.venue.City,
			"state":      h.venue.State,
			"source":     h.source,
		},
	}
}

type unstopPayload struct {
	Data struct {
		Data []unstopHackathon `json:"data"`
	} `json:"data"`
}

type unstopHackathon struct {
	Title             string          `json:"title"`
	Name              string          `json:"name"`
	OrganisationName  string          `json:"organisation_name"`
	Status            string          `json:"status"`
	RegistrationURL   string          `json:"registration_url"`
	PublicURL         string          `json:"public_url"`
	Slug              string          `json:"slug"`
	EndDate           string          `json:"end_date"`
	Deadline          string          `json:"deadline"`
	Location          string          `json:"location"`
	Venue             string          `json:"venue"`
	City              string          `json:"city"`
	Prizes            json.RawMessage `json:"prizes"`
	DisplayedLocation struct {
		Location string `json:"location"`
	} `json:"displayed_location"`
	RegnRequirements struct {
		URL string `json:"url"`
	} `json:"regnRequirements"`
}

// Unstop reads hackathons from the Unstop opportunity search API.
type Unstop struct{ base }

// NewUnstop creates an Unstop source.
func NewUnstop(spec entity.SourceSpec, client *http.Client) *Unstop {
	if spec.URL == "" {
		spec.URL = UnstopDefaultURL
	}
	return &Unstop{base{spec: spec, client: client}}
}

// Fetch implements Source.
func (u *Unstop) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	var payload unstopPayload
	if err := u.getJSON(ctx, u.spec.URL, &payload); err != nil {
		return nil, err
	}

	items := payload.Data.Data
	if len(items) > u.limit() {
		items = items[:u.limit()]
	}
	records := make([]entity.NormalizedRecord, 0, len(items))
	for i, h := range items {
		status := StatusUpcoming
		if h.Status == "open" {
			status = StatusOpen
		}
		location := firstNonEmpty(h.DisplayedLocation.Location, h.Location, h.Venue, h.City)
		records = append(records, u.hackathonRecord(i, hackathon{
			name:      firstNonEmpty(h.Title, h.Name),
			organizer: firstNonEmpty(h.OrganisationName, "Unknown Organizer"),
			status:    status,
			url: firstNonEmpty(h.RegnRequirements.URL, h.RegistrationURL,
				"https://unstop.com/"+firstNonEmpty(h.PublicURL, h.Slug)),
			prize:    unstopPrize(h.Prizes),
			deadline: firstNonEmpty(h.EndDate, h.Deadline),
			venue:    inferVenue(location, h.OrganisationName),
			source:   "Unstop",
		}))
	}
	return records, nil
}

// unstopPrize reads the prizes field, which is a number, a string, an object
// or an array of prize objects depending on the listing.
func unstopPrize(raw json.RawMessage) string {
	if v := rawText(raw); v != "" {
		return "₹" + v
	}

	type prize struct {
		Type   string          `json:"type"`
		Amount json.RawMessage `json:"amount"`
		Total  json.RawMessage `json:"total"`
	}
	var list []prize
	if json.Unmarshal(raw, &list) == nil {
		for _, p := range list {
			amount := rawText(p.Amount)
			if p.Type == "cash" || amount != "" {
				return "₹" + firstNonEmpty(amount, rawText(p.Total), "TBD")
			}
		}
		if len(list) > 0 {
			return "Prizes Available"
		}
		return "TBD"
	}
	var obj prize
	if json.Unmarshal(raw, &obj) == nil {
		return "₹" + firstNonEmpty(rawText(obj.Total), rawText(obj.Amount), "TBD")
	}
	return "TBD"
}

// rawText returns a JSON string or number as text, and "" for anything else.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

type devfolioPayload struct {
	Hackathons []struct {
		Name      string          `json:"name"`
		Organizer string          `json:"organizer"`
		Status    string          `json:"status"`
		Slug      string          `json:"slug"`
		PrizePool json.RawMessage `json:"prize_pool"`
		EndsAt    string          `json:"ends_at"`
		IsOnline  bool            `json:"is_online"`
		IsHybrid  bool            `json:"is_hybrid"`
		City      string          `json:"city"`
		State     string          `json:"state"`
	} `json:"hackathons"`
}

// Devfolio reads hackathons from the Devfolio public API.
type Devfolio struct{ base }

// NewDevfolio creates a Devfolio source.
func NewDevfolio(spec entity.SourceSpec, client *http.Client) *Devfolio {
	if spec.URL == "" {
		spec.URL = DevfolioDefaultURL
	}
	return &Devfolio{base{spec: spec, client: client}}
}

// Fetch implements Source.
func (d *Devfolio) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var payload devfolioPayload
	if err := d.getJSON(ctx, d.spec.URL, &payload); err != nil {
		return nil, err
	}

	items := payload.Hackathons
	if len(items) > d.limit() {
		items = items[:d.limit()]
	}
	records := make([]entity.NormalizedRecord, 0, len(items))
	for i, h := range items {
		status := StatusOpen
		if h.Status == "UPCOMING" {
			status = StatusUpcoming
		}
		prize := "TBD"
		if pool := rawText(h.PrizePool); pool != "" && pool != "0" {
			prize = "₹" + pool
		}
		v := venue{Type: VenueOffline, City: firstNonEmpty(h.City, defaultCity), State: firstNonEmpty(h.State, defaultState)}
		switch {
		case h.IsOnline:
			v.Type = VenueOnline
		case h.IsHybrid:
			v.Type = VenueHybrid
		}
		records = append(records, d.hackathonRecord(i, hackathon{
			name:      h.Name,
			organizer: firstNonEmpty(h.Organizer, "India"),
			status:    status,
			url:       "https://devfolio.co/hackathons/" + h.Slug,
			prize:     prize,
			deadline:  h.EndsAt,
			venue:     v,
			source:    "Devfolio",
		}))
	}
	return records, nil
}

type hackerEarthPayload struct {
	Response []struct {
		Title        string `json:"title"`
		Organization string `json:"organization"`
		Status       string `json:"status"`
		URL          string `json:"url"`
		ChallengeURL string `json:"challenge_url"`
		Prize        string `json:"prize"`
		EndDate      string `json:"end_date"`
		Type         string `json:"type"`
		Country      string `json:"country"`
	} `json:"response"`
}

// HackerEarth reads hackathons from the HackerEarth events feed. Only
// hackathons in the configured country (India by default) are kept.
type HackerEarth struct {
	base
	country string
}

// NewHackerEarth creates a HackerEarth source.
func NewHackerEarth(spec entity.SourceSpec, client *http.Client) *HackerEarth {
	if spec.URL == "" {
		spec.URL = HackerEarthDefaultURL
	}
	return &HackerEarth{base: base{spec: spec, client: client}, country: "India"}
}

// Fetch implements Source.
func (h *HackerEarth) Fetch(ctx context.Context) ([]entity.NormalizedRecord, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	var payload hackerEarthPayload
	if err := h.getJSON(ctx, h.spec.URL, &payload); err != nil {
		return nil, err
	}

	var records []entity.NormalizedRecord
	for _, e := range payload.Response {
		if len(records) >= h.limit() {
			break
		}
		if e.Type != "hackathon" || !strings.EqualFold(e.Country, h.country) {
			continue
		}
		status := StatusUpcoming
		if e.Status == "ONGOING" {
			status = StatusOpen
		}
		records = append(records, h.hackathonRecord(len(records), hackathon{
			name:      e.Title,
			organizer: firstNonEmpty(e.Organization, h.country),
			status:    status,
			url:       firstNonEmpty(e.URL, "https://www.hackerearth.com"+e.ChallengeURL),
			prize:     firstNonEmpty(e.Prize, "TBD"),
			deadline:  e.EndDate,
			venue:     venue{Type: VenueOnline, City: defaultCity, State: defaultState},
			source:    "HackerEarth",
		}))
	}
	return records, nil
}

// IsOpen reports whether a hackathon record is open for registration.
func IsOpen(r entity.NormalizedRecord) bool {
	return r.Attributes["status"] == StatusOpen
}
