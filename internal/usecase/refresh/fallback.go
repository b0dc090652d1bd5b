package refresh

import (
	"fmt"
	"time"

	"techpulse/internal/domain/entity"
)

// FallbackRecords returns the static dataset served when a resource has never
// been fetched successfully. The result is never empty for a known resource.
func FallbackRecords(r entity.ResourceType, now time.Time) []entity.NormalizedRecord {
	var records []entity.NormalizedRecord
	switch r {
	case entity.ResourceNews:
		records = []entity.NormalizedRecord{
			{
				Title:   "AI Takes Over Web Development",
				Summary: "How AI tools are changing the landscape of frontend coding.",
				URL:     "https://dev.to",
			},
			{
				Title:   "React 19 Features Announced",
				Summary: "Everything you need to know about the upcoming React release.",
				URL:     "https://react.dev",
			},
			{
				Title:   "The Future of JavaScript",
				Summary: "New proposals for ECMAScript 2026.",
				URL:     "https://github.com/tc39",
			},
		}
	case entity.ResourceHackathons:
		records = []entity.NormalizedRecord{
			fallbackHackathon("Smart India Hackathon 2025", "Government of India", "Open",
				"https://www.sih.gov.in/sih2024", "₹1,00,000", "Jan 2026", "Hybrid"),
			fallbackHackathon("HackWithInfy 2025", "Infosys", "Open",
				"https://www.hackerrank.com/hackwithinfy", "₹3,00,000", "Feb 2026", "Online"),
			fallbackHackathon("Google Solution Challenge", "Google", "Upcoming",
				"https://developers.google.com/community/gdsc-solution-challenge", "$3,000", "Mar 2026", "Online"),
		}
	default:
		return nil
	}

	date := now.UTC().Truncate(24 * time.Hour)
	for i := range records {
		records[i].ID = fmt.Sprintf("fallback-%s-%d", r, i+1)
		records[i].Date = date
		records[i].Origin = entity.OriginFallback
		records[i].Normalize()
	}
	return records
}

func fallbackHackathon(name, organizer, status, url, prize, deadline, venue string) entity.NormalizedRecord {
	return entity.NormalizedRecord{
		Title:   name,
		Summary: "Organized by " + organizer,
		URL:     url,
		Attributes: map[string]string{
			"organizer":  organizer,
			"status":     status,
			"prize":      prize,
			"deadline":   deadline,
			"venue_type": venue,
			"city":       "Multiple Cities",
			"state":      "Pan India",
			"source":     "fallback",
		},
	}
}
