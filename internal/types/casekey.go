package types

import "strings"

// CaseKey builds the checkpoint key for one case:
// "{provider}|{benchmark}|{case_id}".
func CaseKey(provider, benchmark, caseID string) string {
	return provider + "|" + benchmark + "|" + caseID
}

// ParseCaseKey splits a case key back into its parts. The case ID may itself
// contain "|"; provider and benchmark names may not.
//
// Expectations:
//   - ParseCaseKey(CaseKey(p, b, c)) == (p, b, c, true) when p and b contain no "|"
//   - Returns ok=false when fewer than two separators are present
func ParseCaseKey(key string) (provider, benchmark, caseID string, ok bool) {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
