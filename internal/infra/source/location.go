package source

import (
	"sort"
	"strings"
)

// Venue types reported in the venue_type attribute.
const (
	VenueOnline  = "Online"
	VenueOffline = "Offline"
	VenueHybrid  = "Hybrid"
)

const (
	defaultCity  = "Multiple Cities"
	defaultState = "Pan India"
)

var cityStates = map[string]string{
	"visakhapatnam": "Andhra Pradesh", "vijayawada": "Andhra Pradesh", "tirupati": "Andhra Pradesh",
	"guwahati": "Assam", "patna": "Bihar", "raipur": "Chhattisgarh", "panaji": "Goa",
	"ahmedabad": "Gujarat", "surat": "Gujarat", "vadodara": "Gujarat", "gandhinagar": "Gujarat",
	"gurugram": "Haryana", "gurgaon": "Haryana", "faridabad": "Haryana",
	"shimla": "Himachal Pradesh", "ranchi": "Jharkhand", "jamshedpur": "Jharkhand",
	"bangalore": "Karnataka", "bengaluru": "Karnataka", "mysore": "Karnataka", "mangalore": "Karnataka", "manipal": "Karnataka",
	"thiruvananthapuram": "Kerala", "kochi": "Kerala", "kozhikode": "Kerala",
	"bhopal": "Madhya Pradesh", "indore": "Madhya Pradesh",
	"mumbai": "Maharashtra", "navi mumbai": "Maharashtra", "pune": "Maharashtra", "nagpur": "Maharashtra", "nashik": "Maharashtra", "thane": "Maharashtra",
	"imphal": "Manipur", "shillong": "Meghalaya", "bhubaneswar": "Odisha",
	"chandigarh": "Punjab", "ludhiana": "Punjab", "amritsar": "Punjab",
	"jaipur": "Rajasthan", "jodhpur": "Rajasthan", "udaipur": "Rajasthan", "kota": "Rajasthan",
	"chennai": "Tamil Nadu", "coimbatore": "Tamil Nadu", "madurai": "Tamil Nadu", "vellore": "Tamil Nadu",
	"hyderabad": "Telangana", "warangal": "Telangana",
	"lucknow": "Uttar Pradesh", "kanpur": "Uttar Pradesh", "varanasi": "Uttar Pradesh", "noida": "Uttar Pradesh", "greater noida": "Uttar Pradesh", "prayagraj": "Uttar Pradesh",
	"dehradun": "Uttarakhand", "roorkee": "Uttarakhand",
	"kolkata": "West Bengal", "durgapur": "West Bengal", "siliguri": "West Bengal",
	"delhi": "Delhi", "new delhi": "Delhi", "puducherry": "Puducherry", "srinagar": "Jammu and Kashmir", "jammu": "Jammu and Kashmir",
}

// cityNames is sorted longest first so "navi mumbai" wins over "mumbai".
var cityNames = func() []string {
	names := make([]string, 0, len(cityStates))
	for name := range cityStates {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}()

type venue struct {
	Type  string
	City  string
	State string
}

// inferVenue guesses the venue from a free-form location string, falling back
// to the organizer name for offline events without a known city.
func inferVenue(location, organizer string) venue {
	loc := strings.ToLower(strings.TrimSpace(location))
	switch {
	case strings.Contains(loc, "hybrid"):
		return venue{Type: VenueHybrid, City: defaultCity, State: defaultState}
	case loc == "", loc == "india", strings.Contains(loc, "online"), strings.Contains(loc, "virtual"):
		return venue{Type: VenueOnline, City: defaultCity, State: defaultState}
	}

	if city, state, ok := lookupCity(loc); ok {
		return venue{Type: VenueOffline, City: city, State: state}
	}
	v := venue{Type: VenueOffline, City: defaultCity, State: defaultState}
	if city, state, ok := lookupCity(strings.ToLower(organizer)); ok {
		v.City, v.State = city, state
	}
	return v
}

func lookupCity(s string) (city, state string, ok bool) {
	for _, name := range cityNames {
		if strings.Contains(s, name) {
			return titleCase(name), cityStates[name], true
		}
	}
	return "", "", false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
