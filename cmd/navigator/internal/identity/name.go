package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var nameSeparators = strings.NewReplacer(".", " ", "_", " ", "-", " ")

// NameFromEmail derives a display name from the local part of an address:
// "ferran.torres@x.com" becomes "Ferran Torres". Each word keeps only its
// first letter upper case, so "JOHN.mcDonald" yields "John Mcdonald".
func NameFromEmail(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	words := strings.Fields(nameSeparators.Replace(local))
	if len(words) == 0 {
		return ""
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}
