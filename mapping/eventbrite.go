package mapping

import (
	"fmt"
	"time"

	"github.com/lanternworks/stitch/types"
)

// mapAttendee maps an event registration to a Contact, optionally a
// Campaign Member, and an Opportunity when the ticket cost money.
func (m *NPSPMapper) mapAttendee(rec types.ExternalRecord) (types.MappedRecord, error) {
	id, err := requireIdentity(rec)
	if err != nil {
		return types.MappedRecord{}, err
	}

	objects := []types.MappedObject{contactObject(id, rec)}

	if m.CampaignID != "" {
		objects = append(objects, types.MappedObject{
			SObject:    "CampaignMember",
			MatchField: "Eventbrite_Attendee_ID__c",
			MatchValue: rec.ExternalID,
			Fields: map[string]any{
				"CampaignId": m.CampaignID,
				"Status":     campaignMemberStatus(rec),
			},
		})
	}

	if opp, ok := attendeeOpportunity(rec, id); ok {
		objects = append(objects, opp)
	}

	return types.MappedRecord{
		Source:     rec.Source,
		ExternalID: rec.ExternalID,
		Objects:    objects,
	}, nil
}

// campaignMemberStatus maps the registration status to the campaign
// member status picklist. Only "Attending" is relabeled; the other
// statuses exist verbatim on the campaign.
func campaignMemberStatus(rec types.ExternalRecord) string {
	switch str(rec.Fields, "status") {
	case "Attending":
		return "Registered"
	case "Checked In", "Deleted", "Not Attending":
		return str(rec.Fields, "status")
	}
	return "Registered"
}

// attendeeOpportunity builds the ticket purchase Opportunity. Free
// tickets and add-ons carry no revenue and produce no Opportunity.
func attendeeOpportunity(rec types.ExternalRecord, id identity) (types.MappedObject, bool) {
	gross := num(rec.Fields, "gross_amount")
	if gross <= 0 {
		return types.MappedObject{}, false
	}
	if str(rec.Fields, "ticket_category") == "add_on" {
		return types.MappedObject{}, false
	}

	stage := "Closed Won"
	if boolean(rec.Fields, "refunded") {
		stage = "Refunded"
	}

	// When the ticket class folds the fee into its price the buyer
	// chose the gross amount; otherwise they chose the base price and
	// the fee was added on top.
	selected := num(rec.Fields, "base_price")
	if boolean(rec.Fields, "include_fee") {
		selected = gross
	}

	name := fmt.Sprintf("%s %s - %s", id.FirstName, id.LastName, str(rec.Fields, "event_name"))
	opp := types.MappedObject{
		SObject:    "Opportunity",
		MatchField: "Eventbrite_Attendee_ID__c",
		MatchValue: rec.ExternalID,
		Fields: map[string]any{
			"Name":                     truncate(name, maxNameLength),
			"Amount":                   gross,
			"StageName":                stage,
			"CloseDate":                attendeeCloseDate(rec),
			"LeadSource":               leadSource(rec.Source),
			"Donor_Selected_Amount__c": selected,
			"Net_Amount__c":            num(rec.Fields, "base_price"),
		},
	}
	return opp, true
}

// attendeeCloseDate uses the registration date, falling back to the
// event start when the registration timestamp is unparsable.
func attendeeCloseDate(rec types.ExternalRecord) string {
	if created := str(rec.Fields, "created"); created != "" {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	if start := str(rec.Fields, "event_start"); start != "" {
		if ts, err := time.Parse(time.RFC3339, start); err == nil {
			return ts.Format("2006-01-02")
		}
	}
	return rec.FetchedAt.Format("2006-01-02")
}
