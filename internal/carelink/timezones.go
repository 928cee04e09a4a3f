package carelink

import "time"

// Carelink reports the client zone with Microsoft timezone names. The map
// covers the zones seen in the wild; unknown names fall back to the process
// zone.
var msTimezoneToIANA = map[string]string{
	"GMT Standard Time":              "Europe/London",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Central European Standard Time": "Europe/Warsaw",
	"Romance Standard Time":          "Europe/Paris",
	"E. Europe Standard Time":        "Europe/Chisinau",
	"FLE Standard Time":              "Europe/Kiev",
	"GTB Standard Time":              "Europe/Bucharest",
	"Russian Standard Time":          "Europe/Moscow",
	"Eastern Standard Time":          "America/New_York",
	"Central Standard Time":          "America/Chicago",
	"Mountain Standard Time":         "America/Denver",
	"Pacific Standard Time":          "America/Los_Angeles",
	"Alaskan Standard Time":          "America/Anchorage",
	"Hawaiian Standard Time":         "Pacific/Honolulu",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"Cen. Australia Standard Time":   "Australia/Adelaide",
	"W. Australia Standard Time":     "Australia/Perth",
	"New Zealand Standard Time":      "Pacific/Auckland",
	"South Africa Standard Time":     "Africa/Johannesburg",
	"Israel Standard Time":           "Asia/Jerusalem",
	"Arabian Standard Time":          "Asia/Dubai",
	"India Standard Time":            "Asia/Kolkata",
	"China Standard Time":            "Asia/Shanghai",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"SE Asia Standard Time":          "Asia/Bangkok",
	"Singapore Standard Time":        "Asia/Singapore",
	"Atlantic Standard Time":         "America/Halifax",
	"SA Pacific Standard Time":       "America/Bogota",
	"Argentina Standard Time":        "America/Buenos_Aires",
	"E. South America Standard Time": "America/Sao_Paulo",
}

// LocationFor resolves the Microsoft timezone name from the periodic payload
// to a time.Location.
func LocationFor(msName string) *time.Location {
	iana, ok := msTimezoneToIANA[msName]
	if !ok {
		return time.Local
	}
	loc, err := time.LoadLocation(iana)
	if err != nil {
		return time.Local
	}
	return loc
}
