package resolve

import "strings"

var stateAbbrev = map[string]string{
	"ALABAMA": "AL", "ALASKA": "AK", "ARIZONA": "AZ", "ARKANSAS": "AR",
	"CALIFORNIA": "CA", "COLORADO": "CO", "CONNECTICUT": "CT", "DELAWARE": "DE",
	"DISTRICT OF COLUMBIA": "DC", "FLORIDA": "FL", "GEORGIA": "GA", "HAWAII": "HI",
	"IDAHO": "ID", "ILLINOIS": "IL", "INDIANA": "IN", "IOWA": "IA",
	"KANSAS": "KS", "KENTUCKY": "KY", "LOUISIANA": "LA", "MAINE": "ME",
	"MARYLAND": "MD", "MASSACHUSETTS": "MA", "MICHIGAN": "MI", "MINNESOTA": "MN",
	"MISSISSIPPI": "MS", "MISSOURI": "MO", "MONTANA": "MT", "NEBRASKA": "NE",
	"NEVADA": "NV", "NEW HAMPSHIRE": "NH", "NEW JERSEY": "NJ", "NEW MEXICO": "NM",
	"NEW YORK": "NY", "NORTH CAROLINA": "NC", "NORTH DAKOTA": "ND", "OHIO": "OH",
	"OKLAHOMA": "OK", "OREGON": "OR", "PENNSYLVANIA": "PA", "RHODE ISLAND": "RI",
	"SOUTH CAROLINA": "SC", "SOUTH DAKOTA": "SD", "TENNESSEE": "TN", "TEXAS": "TX",
	"UTAH": "UT", "VERMONT": "VT", "VIRGINIA": "VA", "WASHINGTON": "WA",
	"WEST VIRGINIA": "WV", "WISCONSIN": "WI", "WYOMING": "WY",
	"AMERICAN SAMOA": "AS", "GUAM": "GU", "NORTHERN MARIANA ISLANDS": "MP",
	"PUERTO RICO": "PR", "VIRGIN ISLANDS": "VI",
}

var validAbbrev = func() map[string]bool {
	m := make(map[string]bool, len(stateAbbrev)+1)
	for _, v := range stateAbbrev {
		m[v] = true
	}
	m["US"] = true // presidential candidates file with state US
	return m
}()

// NormalizeState maps a full state name or postal code to the postal code.
// Unknown input yields "" so the hint is ignored rather than guessed.
func NormalizeState(s string) string {
	s = NormalizeName(s)
	if s == "" {
		return ""
	}
	if validAbbrev[s] {
		return s
	}
	return stateAbbrev[s]
}

// NormalizeOffice maps an office code or word to P, S or H. Words are
// checked token by token so "U.S. House" and "house" agree.
func NormalizeOffice(s string) string {
	for _, tok := range Tokens(NormalizeName(s)) {
		switch {
		case tok == "P" || strings.HasPrefix(tok, "PRES"):
			return "P"
		case tok == "S" || strings.HasPrefix(tok, "SEN"):
			return "S"
		case tok == "H" || tok == "HOUSE" || strings.HasPrefix(tok, "REP") || strings.HasPrefix(tok, "CONGRESS"):
			return "H"
		}
	}
	return ""
}
