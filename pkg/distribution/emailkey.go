// Package distribution resolves which attendees receive the summary email.
// Delivery is opt-in and fail-closed: an address with no stored preference
// never receives email.
package distribution

import "strings"

// EmailKey normalises an address for preference and alias lookups:
// lowercase the whole address and strip dots from the local part, so
// "John.Smith@Contoso.com" and "johnsmith@contoso.com" compare equal.
func EmailKey(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return strings.ReplaceAll(email, ".", "")
	}
	local := strings.ReplaceAll(email[:at], ".", "")
	return local + email[at:]
}
