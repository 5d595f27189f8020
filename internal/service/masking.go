package service

import "strings"

// MaskEmail hides most of the local part so addresses can appear in logs:
// "alice@example.com" becomes "al***@example.com".
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	visible := 2
	if len(local) < visible {
		visible = len(local)
	}
	return local[:visible] + "***" + domain
}
