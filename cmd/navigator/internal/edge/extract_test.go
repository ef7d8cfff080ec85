package edge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailChain_Order(t *testing.T) {
	assert.Equal(t, "a@x.com", First(Payload{Email: "a@x.com", UserEmail: "b@x.com"}, EmailChain))
	assert.Equal(t, "b@x.com", First(Payload{UserEmail: "b@x.com", PreferredUsername: "c@x.com"}, EmailChain))
	assert.Equal(t, "c@x.com", First(Payload{PreferredUsername: "c@x.com"}, EmailChain))
	assert.Equal(t, "", First(Payload{Name: "Nobody"}, EmailChain))
}

func TestNameChain(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"explicit name", Payload{Name: "Ana Ruiz", GivenName: "X", Email: "a@x.com"}, "Ana Ruiz"},
		{"undefined sentinel skipped", Payload{Name: "undefined undefined", GivenName: "Ana", FamilyName: "Ruiz"}, "Ana Ruiz"},
		{"given only", Payload{GivenName: "Ana", DisplayName: "ignored"}, "Ana"},
		{"display name", Payload{DisplayName: "A. Ruiz", Email: "a@x.com"}, "A. Ruiz"},
		{"derived from email", Payload{Email: "ferran.torres@x.com"}, "Ferran Torres"},
		{"derived from fallback email field", Payload{PreferredUsername: "ops_team-lead@x.com"}, "Ops Team Lead"},
		{"nothing", Payload{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, First(tt.payload, NameChain))
		})
	}
}

func TestSubjectChain(t *testing.T) {
	assert.Equal(t, "id-1", First(Payload{ID: "id-1", Sub: "sub-1"}, SubjectChain))
	assert.Equal(t, "sub-1", First(Payload{Sub: "sub-1", UserUUID: "uuid"}, SubjectChain))
	assert.Equal(t, "uuid", First(Payload{UserUUID: "uuid", Email: "a@x.com"}, SubjectChain))
	assert.Equal(t, "a@x.com", First(Payload{Email: "a@x.com"}, SubjectChain))
}

func TestDecodePayload_WeakTypes(t *testing.T) {
	p, err := DecodePayload(map[string]any{
		"email":   "a@x.com",
		"id":      float64(42),
		"country": "ES",
		"groups":  []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", p.Email)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "ES", p.Country)
}
