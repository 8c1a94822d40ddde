package moderation

import "regexp"

// Display sanitization masks contact details in text shown on public
// surfaces. It is idempotent and independent of the admission verdict, so it
// may be applied even to allowed content.

var (
	maskPhoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	maskEmailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

const (
	phoneMask = "[phone hidden]"
	emailMask = "[email hidden]"
)

// Sanitize masks phone numbers and email addresses for display. Applying it
// twice yields the same output as applying it once.
func Sanitize(text string) string {
	text = maskEmailRe.ReplaceAllString(text, emailMask)
	text = maskPhoneRe.ReplaceAllString(text, phoneMask)
	return text
}
