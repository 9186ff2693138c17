package mapping

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternworks/stitch/types"
)

func donationRecord() types.ExternalRecord {
	return types.ExternalRecord{
		Source:     types.SourcePayPal,
		ExternalID: "TXN-1",
		Kind:       types.KindDonation,
		Fields: map[string]any{
			"email":            "ada@example.org",
			"given_name":       "Ada",
			"surname":          "Lovelace",
			"gross_amount":     25.0,
			"fee_amount":       1.05,
			"subject":          "Annual appeal",
			"transaction_date": "2026-01-15T10:00:00+0000",
		},
		FetchedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func attendeeRecord() types.ExternalRecord {
	return types.ExternalRecord{
		Source:     types.SourceEventbrite,
		ExternalID: "ATT-1",
		Kind:       types.KindAttendee,
		Fields: map[string]any{
			"email":        "grace@example.org",
			"first_name":   "Grace",
			"last_name":    "Hopper",
			"event_name":   "Spring Gala",
			"status":       "Attending",
			"gross_amount": 35.0,
			"base_price":   32.5,
			"include_fee":  true,
			"created":      "2026-01-20T09:00:00Z",
		},
		FetchedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func findObject(t *testing.T, rec types.MappedRecord, sobject string) types.MappedObject {
	t.Helper()
	for _, obj := range rec.Objects {
		if obj.SObject == sobject {
			return obj
		}
	}
	t.Fatalf("no %s object in mapped record", sobject)
	return types.MappedObject{}
}

func TestMapDonation(t *testing.T) {
	m := &NPSPMapper{}
	mapped, err := m.Map(donationRecord())
	require.NoError(t, err)

	require.Len(t, mapped.Objects, 2)
	contact := findObject(t, mapped, "Contact")
	assert.Equal(t, "Email", contact.MatchField)
	assert.Equal(t, "ada@example.org", contact.MatchValue)
	assert.Equal(t, "Lovelace", contact.Fields["LastName"])
	assert.Equal(t, "PayPal", contact.Fields["LeadSource"])

	opp := findObject(t, mapped, "Opportunity")
	assert.Equal(t, "PayPal_Transaction_ID__c", opp.MatchField)
	assert.Equal(t, "TXN-1", opp.MatchValue)
	assert.Equal(t, "PayPal: Annual appeal (ada@example.org)", opp.Fields["Name"])
	assert.Equal(t, 25.0, opp.Fields["Amount"])
	assert.Equal(t, "Closed Won", opp.Fields["StageName"])
	assert.Equal(t, "2026-01-15", opp.Fields["CloseDate"])
	assert.Equal(t, "PayPal", opp.Fields["LeadSource"])
	assert.InDelta(t, 23.95, opp.Fields["Net_Amount__c"], 0.0001)
}

func TestMapIsDeterministic(t *testing.T) {
	m := &NPSPMapper{CampaignID: "701XX"}
	a, err := m.Map(attendeeRecord())
	require.NoError(t, err)
	b, err := m.Map(attendeeRecord())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMapDonationMissingEmail(t *testing.T) {
	rec := donationRecord()
	delete(rec.Fields, "email")

	_, err := (&NPSPMapper{}).Map(rec)
	require.Error(t, err)
	assert.True(t, types.IsSchemaMismatch(err))
	assert.False(t, types.IsRetryable(err))
}

func TestMapDonationInvalidEmail(t *testing.T) {
	rec := donationRecord()
	rec.Fields["email"] = "not-an-email"

	_, err := (&NPSPMapper{}).Map(rec)
	assert.True(t, types.IsSchemaMismatch(err))
}

func TestMapDonationNameFallbacks(t *testing.T) {
	cases := []struct {
		name      string
		fields    map[string]any
		wantFirst string
		wantLast  string
	}{
		{
			name:      "shipping last comma first",
			fields:    map[string]any{"shipping_name": "Lovelace, Ada"},
			wantFirst: "Ada",
			wantLast:  "Lovelace",
		},
		{
			name:      "shipping first last",
			fields:    map[string]any{"shipping_name": "Ada Lovelace"},
			wantFirst: "Ada",
			wantLast:  "Lovelace",
		},
		{
			name:      "alternate full name",
			fields:    map[string]any{"alternate_full_name": "Ada King Lovelace"},
			wantFirst: "Ada King",
			wantLast:  "Lovelace",
		},
		{
			name:      "single word name",
			fields:    map[string]any{"shipping_name": "Lovelace"},
			wantFirst: "",
			wantLast:  "Lovelace",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := donationRecord()
			delete(rec.Fields, "given_name")
			delete(rec.Fields, "surname")
			for k, v := range tc.fields {
				rec.Fields[k] = v
			}

			mapped, err := (&NPSPMapper{}).Map(rec)
			require.NoError(t, err)
			contact := findObject(t, mapped, "Contact")
			assert.Equal(t, tc.wantFirst, contact.Fields["FirstName"])
			assert.Equal(t, tc.wantLast, contact.Fields["LastName"])
		})
	}
}

func TestMapDonationNoName(t *testing.T) {
	rec := donationRecord()
	delete(rec.Fields, "given_name")
	delete(rec.Fields, "surname")

	_, err := (&NPSPMapper{}).Map(rec)
	assert.True(t, types.IsSchemaMismatch(err))
}

func TestMapSubscriptionAddsRecurringDonation(t *testing.T) {
	rec := donationRecord()
	rec.Kind = types.KindSubscription
	rec.Fields["reference_id"] = "I-AGREEMENT1"
	rec.Fields["subject"] = "Monthly giving"

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	require.Len(t, mapped.Objects, 3)

	rd := findObject(t, mapped, "npe03__Recurring_Donation__c")
	assert.Equal(t, "I-AGREEMENT1", rd.MatchValue)
	assert.Equal(t, "Monthly", rd.Fields["npe03__Installment_Period__c"])
	assert.Equal(t, "Open", rd.Fields["npe03__Open_Ended_Status__c"])
}

func TestMapSubscriptionPeriodFromBillingGap(t *testing.T) {
	cases := []struct {
		name string
		days float64
		want string
	}{
		{"monthly gap", 31, "Monthly"},
		{"yearly gap", 365, "Yearly"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := donationRecord()
			rec.Kind = types.KindSubscription
			rec.Fields["reference_id"] = "I-AGREEMENT9"
			rec.Fields["subject"] = "Support us"
			rec.Fields["billing_interval_days"] = tc.days

			mapped, err := (&NPSPMapper{}).Map(rec)
			require.NoError(t, err)
			rd := findObject(t, mapped, "npe03__Recurring_Donation__c")
			assert.Equal(t, tc.want, rd.Fields["npe03__Installment_Period__c"])
		})
	}
}

func TestMapSubscriptionUnknownPeriodStaysOpenEnded(t *testing.T) {
	rec := donationRecord()
	rec.Kind = types.KindSubscription
	rec.Fields["reference_id"] = "I-AGREEMENT3"
	rec.Fields["subject"] = "Support us"

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	rd := findObject(t, mapped, "npe03__Recurring_Donation__c")
	_, hasPeriod := rd.Fields["npe03__Installment_Period__c"]
	assert.False(t, hasPeriod, "a record with no cadence signal gets no installment period")
	assert.Equal(t, "Open", rd.Fields["npe03__Open_Ended_Status__c"])
}

func TestMapSubscriptionYearly(t *testing.T) {
	rec := donationRecord()
	rec.Kind = types.KindSubscription
	rec.Fields["reference_id"] = "I-AGREEMENT2"
	rec.Fields["subject"] = "Annual membership"

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	rd := findObject(t, mapped, "npe03__Recurring_Donation__c")
	assert.Equal(t, "Yearly", rd.Fields["npe03__Installment_Period__c"])
}

func TestClassifyPeriodDays(t *testing.T) {
	assert.Equal(t, periodMonthly, classifyPeriodDays(27))
	assert.Equal(t, periodMonthly, classifyPeriodDays(31))
	assert.Equal(t, periodYearly, classifyPeriodDays(365))
	assert.Equal(t, periodYearly, classifyPeriodDays(361))
	assert.Equal(t, periodUnknown, classifyPeriodDays(90))
}

func TestMapRefund(t *testing.T) {
	rec := types.ExternalRecord{
		Source:     types.SourcePayPal,
		ExternalID: "TXN-REFUND",
		Kind:       types.KindRefund,
		Fields:     map[string]any{"reference_id": "TXN-1"},
	}

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	require.Len(t, mapped.Objects, 1)

	opp := mapped.Objects[0]
	assert.Equal(t, "Opportunity", opp.SObject)
	assert.Equal(t, "TXN-1", opp.MatchValue)
	assert.Equal(t, "Refunded", opp.Fields["StageName"])
}

func TestMapRefundWithoutReference(t *testing.T) {
	rec := types.ExternalRecord{
		Source:     types.SourcePayPal,
		ExternalID: "TXN-REFUND",
		Kind:       types.KindRefund,
		Fields:     map[string]any{},
	}
	_, err := (&NPSPMapper{}).Map(rec)
	assert.True(t, types.IsSchemaMismatch(err))
}

func TestMapAttendeePaidTicket(t *testing.T) {
	m := &NPSPMapper{CampaignID: "701XX"}
	mapped, err := m.Map(attendeeRecord())
	require.NoError(t, err)
	require.Len(t, mapped.Objects, 3)

	member := findObject(t, mapped, "CampaignMember")
	assert.Equal(t, "701XX", member.Fields["CampaignId"])
	assert.Equal(t, "Registered", member.Fields["Status"])

	opp := findObject(t, mapped, "Opportunity")
	assert.Equal(t, "Grace Hopper - Spring Gala", opp.Fields["Name"])
	assert.Equal(t, 35.0, opp.Fields["Amount"])
	assert.Equal(t, "Closed Won", opp.Fields["StageName"])
	assert.Equal(t, "2026-01-20", opp.Fields["CloseDate"])
	assert.Equal(t, "Eventbrite", opp.Fields["LeadSource"])
	// include_fee means the buyer chose the gross amount.
	assert.Equal(t, 35.0, opp.Fields["Donor_Selected_Amount__c"])
	assert.Equal(t, 32.5, opp.Fields["Net_Amount__c"])
}

func TestMapAttendeeFeeOnTopSelectsBasePrice(t *testing.T) {
	rec := attendeeRecord()
	rec.Fields["include_fee"] = false

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	opp := findObject(t, mapped, "Opportunity")
	assert.Equal(t, 32.5, opp.Fields["Donor_Selected_Amount__c"])
	assert.Equal(t, 35.0, opp.Fields["Amount"])
}

func TestMapAttendeeCompany(t *testing.T) {
	rec := attendeeRecord()
	rec.Fields["company"] = "Eckert-Mauchly"

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	contact := findObject(t, mapped, "Contact")
	assert.Equal(t, "Eckert-Mauchly", contact.Fields["Eventbrite_Company_Name__c"])
	assert.Equal(t, "Eventbrite", contact.Fields["LeadSource"])
}

func TestMapAttendeeFreeTicketNoOpportunity(t *testing.T) {
	rec := attendeeRecord()
	rec.Fields["gross_amount"] = 0.0

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	for _, obj := range mapped.Objects {
		assert.NotEqual(t, "Opportunity", obj.SObject)
	}
}

func TestMapAttendeeAddOnNoOpportunity(t *testing.T) {
	rec := attendeeRecord()
	rec.Fields["ticket_category"] = "add_on"

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	for _, obj := range mapped.Objects {
		assert.NotEqual(t, "Opportunity", obj.SObject)
	}
}

func TestMapAttendeeRefundedStage(t *testing.T) {
	rec := attendeeRecord()
	rec.Fields["refunded"] = true

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	opp := findObject(t, mapped, "Opportunity")
	assert.Equal(t, "Refunded", opp.Fields["StageName"])
}

func TestMapAttendeeMemberStatuses(t *testing.T) {
	cases := []struct {
		attendee string
		want     string
	}{
		{"Attending", "Registered"},
		{"Checked In", "Checked In"},
		{"Deleted", "Deleted"},
		{"Not Attending", "Not Attending"},
	}
	for _, tc := range cases {
		t.Run(tc.attendee, func(t *testing.T) {
			rec := attendeeRecord()
			rec.Fields["status"] = tc.attendee

			mapped, err := (&NPSPMapper{CampaignID: "701XX"}).Map(rec)
			require.NoError(t, err)
			member := findObject(t, mapped, "CampaignMember")
			assert.Equal(t, tc.want, member.Fields["Status"])
		})
	}
}

func TestMapAttendeeLongNamesTruncated(t *testing.T) {
	rec := attendeeRecord()
	rec.Fields["event_name"] = strings.Repeat("Gala ", 40)

	mapped, err := (&NPSPMapper{}).Map(rec)
	require.NoError(t, err)
	opp := findObject(t, mapped, "Opportunity")
	assert.LessOrEqual(t, len(opp.Fields["Name"].(string)), 80)
}

func TestMapUnknownKind(t *testing.T) {
	rec := donationRecord()
	rec.Kind = types.KindSkip

	_, err := (&NPSPMapper{}).Map(rec)
	assert.True(t, types.IsSchemaMismatch(err))
}
