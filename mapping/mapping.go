// Package mapping transforms source records into CRM object payloads.
//
// Mapping is pure: the same record always yields the same objects, and
// no network or clock access happens here. Records that cannot be mapped
// produce a SchemaMismatchError, which the engine treats as permanent.
package mapping

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/lanternworks/stitch/types"
)

// maxNameLength caps CRM name fields; the platform rejects longer values.
const maxNameLength = 80

// Mapper maps external records to CRM objects.
type Mapper interface {
	Map(rec types.ExternalRecord) (types.MappedRecord, error)
}

// NPSPMapper maps records to Salesforce NPSP objects (Contact,
// Opportunity, Recurring Donation, Campaign Member).
type NPSPMapper struct {
	// CampaignID attaches Eventbrite attendees to a campaign when set.
	CampaignID string
}

// Map dispatches on the record's source and kind.
func (m *NPSPMapper) Map(rec types.ExternalRecord) (types.MappedRecord, error) {
	switch {
	case rec.Source == types.SourcePayPal && rec.Kind == types.KindDonation:
		return m.mapDonation(rec)
	case rec.Source == types.SourcePayPal && rec.Kind == types.KindSubscription:
		return m.mapSubscription(rec)
	case rec.Source == types.SourcePayPal && rec.Kind == types.KindRefund:
		return m.mapRefund(rec)
	case rec.Source == types.SourceEventbrite && rec.Kind == types.KindAttendee:
		return m.mapAttendee(rec)
	}
	return types.MappedRecord{}, &types.SchemaMismatchError{
		Source:     rec.Source,
		ExternalID: rec.ExternalID,
		Field:      "kind",
		Reason:     fmt.Sprintf("no mapping for %s/%s", rec.Source, rec.Kind),
	}
}

// identity is the donor fields every mapping requires.
type identity struct {
	Email     string
	FirstName string
	LastName  string
}

// mismatch builds the permanent mapping error for a record field.
func mismatch(rec types.ExternalRecord, field, reason string) error {
	return &types.SchemaMismatchError{
		Source:     rec.Source,
		ExternalID: rec.ExternalID,
		Field:      field,
		Reason:     reason,
	}
}

// requireIdentity extracts and validates the donor identity. A record
// without an ID, a valid email, or a resolvable last name cannot be
// matched in the CRM and is a permanent failure.
func requireIdentity(rec types.ExternalRecord) (identity, error) {
	if rec.ExternalID == "" {
		return identity{}, mismatch(rec, "external_id", "missing")
	}

	email := str(rec.Fields, "email")
	if email == "" {
		return identity{}, mismatch(rec, "email", "missing")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return identity{}, mismatch(rec, "email", "not a valid address")
	}

	first, last := resolveName(rec.Fields)
	if last == "" {
		return identity{}, mismatch(rec, "last_name", "no name in record")
	}

	return identity{Email: email, FirstName: first, LastName: last}, nil
}

// resolveName picks the donor name from the richest available source:
// explicit given/surname fields, then the shipping name (either
// "Last, First" or "First Last"), then the alternate full name.
func resolveName(fields map[string]any) (first, last string) {
	first = str(fields, "given_name")
	last = str(fields, "surname")
	if first == "" && last == "" {
		first = str(fields, "first_name")
		last = str(fields, "last_name")
	}
	if last != "" {
		return first, last
	}

	if shipping := str(fields, "shipping_name"); shipping != "" {
		return splitName(shipping)
	}
	if alt := str(fields, "alternate_full_name"); alt != "" {
		return splitName(alt)
	}
	return "", ""
}

// splitName splits a display name into first and last. "Last, First"
// and "First [Middle ...] Last" are both recognized.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	if i := strings.Index(name, ","); i >= 0 {
		return strings.TrimSpace(name[i+1:]), strings.TrimSpace(name[:i])
	}
	parts := strings.Fields(name)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

// leadSource is the CRM lead source label for a source system.
func leadSource(src types.SourceSystem) string {
	switch src {
	case types.SourcePayPal:
		return "PayPal"
	case types.SourceEventbrite:
		return "Eventbrite"
	}
	return string(src)
}

// contactObject builds the Contact upsert matched on email.
func contactObject(id identity, rec types.ExternalRecord) types.MappedObject {
	fields := map[string]any{
		"FirstName":  truncate(id.FirstName, maxNameLength),
		"LastName":   truncate(id.LastName, maxNameLength),
		"Email":      id.Email,
		"LeadSource": leadSource(rec.Source),
	}
	if v := str(rec.Fields, "company"); v != "" {
		fields["Eventbrite_Company_Name__c"] = v
	}
	if v := str(rec.Fields, "address_line_1"); v != "" {
		street := v
		if l2 := str(rec.Fields, "address_line_2"); l2 != "" {
			street += "\n" + l2
		}
		fields["MailingStreet"] = street
	}
	if v := str(rec.Fields, "address_city"); v != "" {
		fields["MailingCity"] = v
	}
	if v := str(rec.Fields, "address_state"); v != "" {
		fields["MailingState"] = v
	}
	if v := str(rec.Fields, "address_postal_code"); v != "" {
		fields["MailingPostalCode"] = v
	}
	if v := str(rec.Fields, "address_country"); v != "" {
		fields["MailingCountry"] = v
	}
	return types.MappedObject{
		SObject:    "Contact",
		MatchField: "Email",
		MatchValue: id.Email,
		Fields:     fields,
	}
}

// truncate caps s to max characters.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func boolean(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
