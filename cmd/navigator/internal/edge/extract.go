package edge

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

// undefinedName is what some edge deployments send when both name parts are unset.
const undefinedName = "undefined undefined"

// Payload is the identity document returned by the edge identity endpoint.
// Every field is optional.
type Payload struct {
	Email             string `mapstructure:"email"`
	UserEmail         string `mapstructure:"user_email"`
	PreferredUsername string `mapstructure:"preferred_username"`
	Name              string `mapstructure:"name"`
	GivenName         string `mapstructure:"given_name"`
	FamilyName        string `mapstructure:"family_name"`
	DisplayName       string `mapstructure:"displayName"`
	ID                string `mapstructure:"id"`
	Sub               string `mapstructure:"sub"`
	UserUUID          string `mapstructure:"user_uuid"`
	Country           string `mapstructure:"country"`
}

// DecodePayload converts a decoded JSON object into a Payload. Scalars are
// weakly typed so a numeric id still becomes a string; unknown keys are ignored.
func DecodePayload(raw map[string]any) (Payload, error) {
	var p Payload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return Payload{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Extractor pulls one candidate value out of a payload. Empty means "no value".
type Extractor func(Payload) string

// First runs the extractors in order and returns the first non-empty result.
func First(p Payload, chain []Extractor) string {
	for _, extract := range chain {
		if v := strings.TrimSpace(extract(p)); v != "" {
			return v
		}
	}
	return ""
}

// EmailChain lists the fields an email address may arrive in.
var EmailChain = []Extractor{
	func(p Payload) string { return p.Email },
	func(p Payload) string { return p.UserEmail },
	func(p Payload) string { return p.PreferredUsername },
}

// NameChain derives a display name, falling back to the email local part.
var NameChain = []Extractor{
	func(p Payload) string {
		if strings.TrimSpace(p.Name) == undefinedName {
			return ""
		}
		return p.Name
	},
	func(p Payload) string {
		given, family := strings.TrimSpace(p.GivenName), strings.TrimSpace(p.FamilyName)
		if given == "" || family == "" {
			return ""
		}
		return given + " " + family
	},
	func(p Payload) string { return p.GivenName },
	func(p Payload) string { return p.DisplayName },
	func(p Payload) string { return identity.NameFromEmail(First(p, EmailChain)) },
}

// SubjectChain picks a stable subject identifier.
var SubjectChain = []Extractor{
	func(p Payload) string { return p.ID },
	func(p Payload) string { return p.Sub },
	func(p Payload) string { return p.UserUUID },
	func(p Payload) string { return First(p, EmailChain) },
}
