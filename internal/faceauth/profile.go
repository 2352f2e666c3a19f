package faceauth

import (
	"strings"

	"github.com/kozaktomas/face-auth/internal/database"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeProfile trims every field, composes names to NFC and case-folds
// the email so uniqueness does not depend on capitalisation.
func normalizeProfile(p database.Profile) database.Profile {
	return database.Profile{
		Name:       norm.NFC.String(strings.TrimSpace(p.Name)),
		LastName:   norm.NFC.String(strings.TrimSpace(p.LastName)),
		Email:      cases.Fold().String(norm.NFC.String(strings.TrimSpace(p.Email))),
		Identifier: strings.TrimSpace(p.Identifier),
	}
}

// missingFields lists the empty required fields.
func missingFields(p database.Profile, password string) []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", p.Name},
		{"last_name", p.LastName},
		{"email", p.Email},
		{"identifier", p.Identifier},
		{"password", password},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
