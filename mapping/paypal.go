package mapping

import (
	"fmt"
	"strings"
	"time"

	"github.com/lanternworks/stitch/types"
)

// transactionDateFormat is the timestamp layout PayPal reports.
const transactionDateFormat = "2006-01-02T15:04:05-0700"

// mapDonation maps a one-time payment to a Contact and a Closed Won
// Opportunity keyed on the transaction ID.
func (m *NPSPMapper) mapDonation(rec types.ExternalRecord) (types.MappedRecord, error) {
	id, err := requireIdentity(rec)
	if err != nil {
		return types.MappedRecord{}, err
	}

	amount := num(rec.Fields, "gross_amount")
	if amount <= 0 {
		return types.MappedRecord{}, mismatch(rec, "gross_amount", "donation amount must be positive")
	}

	closeDate, err := transactionDate(rec)
	if err != nil {
		return types.MappedRecord{}, err
	}

	fee := num(rec.Fields, "fee_amount")
	opp := types.MappedObject{
		SObject:    "Opportunity",
		MatchField: "PayPal_Transaction_ID__c",
		MatchValue: rec.ExternalID,
		Fields: map[string]any{
			"Name":           opportunityName(rec, id),
			"Amount":         amount,
			"StageName":      "Closed Won",
			"CloseDate":      closeDate.Format("2006-01-02"),
			"LeadSource":     leadSource(rec.Source),
			"Payment_Fee__c": fee,
			"Net_Amount__c":  amount - fee,
		},
	}

	return types.MappedRecord{
		Source:     rec.Source,
		ExternalID: rec.ExternalID,
		Objects:    []types.MappedObject{contactObject(id, rec), opp},
	}, nil
}

// mapSubscription maps a recurring payment: the donation objects plus
// an NPSP Recurring Donation keyed on the PayPal billing agreement.
func (m *NPSPMapper) mapSubscription(rec types.ExternalRecord) (types.MappedRecord, error) {
	mapped, err := m.mapDonation(rec)
	if err != nil {
		return types.MappedRecord{}, err
	}

	agreementID := str(rec.Fields, "reference_id")
	if agreementID == "" {
		// Without the billing agreement the payment still counts as a
		// plain donation.
		return mapped, nil
	}

	rdFields := map[string]any{
		"Name":                        truncate("PayPal subscription "+agreementID, maxNameLength),
		"npe03__Amount__c":            num(rec.Fields, "gross_amount"),
		"npe03__Open_Ended_Status__c": "Open",
	}
	switch periodFromFields(rec.Fields) {
	case periodMonthly:
		rdFields["npe03__Installment_Period__c"] = "Monthly"
	case periodYearly:
		rdFields["npe03__Installment_Period__c"] = "Yearly"
	}
	rd := types.MappedObject{
		SObject:    "npe03__Recurring_Donation__c",
		MatchField: "PayPal_Agreement_ID__c",
		MatchValue: agreementID,
		Fields:     rdFields,
	}
	mapped.Objects = append(mapped.Objects, rd)
	return mapped, nil
}

// mapRefund maps a refund to an Opportunity stage change on the
// original transaction, located via the PayPal reference ID.
func (m *NPSPMapper) mapRefund(rec types.ExternalRecord) (types.MappedRecord, error) {
	if rec.ExternalID == "" {
		return types.MappedRecord{}, mismatch(rec, "external_id", "missing")
	}
	original := str(rec.Fields, "reference_id")
	if original == "" {
		return types.MappedRecord{}, mismatch(rec, "reference_id", "refund without original transaction reference")
	}

	opp := types.MappedObject{
		SObject:    "Opportunity",
		MatchField: "PayPal_Transaction_ID__c",
		MatchValue: original,
		Fields: map[string]any{
			"StageName": "Refunded",
		},
	}

	return types.MappedRecord{
		Source:     rec.Source,
		ExternalID: rec.ExternalID,
		Objects:    []types.MappedObject{opp},
	}, nil
}

// opportunityName builds "PayPal: {subject} ({email})", falling back to
// the note and then a generic label, truncated to the platform limit.
func opportunityName(rec types.ExternalRecord, id identity) string {
	subject := str(rec.Fields, "subject")
	if subject == "" {
		subject = str(rec.Fields, "note")
	}
	if subject == "" {
		subject = "Donation"
	}
	return truncate(fmt.Sprintf("PayPal: %s (%s)", subject, id.Email), maxNameLength)
}

// transactionDate parses the reported initiation date. A record without
// a parsable date cannot produce a valid CloseDate.
func transactionDate(rec types.ExternalRecord) (time.Time, error) {
	raw := str(rec.Fields, "transaction_date")
	if raw == "" {
		return time.Time{}, mismatch(rec, "transaction_date", "missing")
	}
	ts, err := time.Parse(transactionDateFormat, raw)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339, raw); err != nil {
			return time.Time{}, mismatch(rec, "transaction_date", "unparsable timestamp")
		}
	}
	return ts, nil
}

// periodType classifies a billing interval in days.
type periodType int

const (
	periodUnknown periodType = iota
	periodMonthly
	periodYearly
)

// periodFromFields classifies the subscription interval: the subject
// line when it names a cadence, otherwise the billing gap reported by
// the subscription detail. A record establishing neither stays
// open-ended without a period.
func periodFromFields(fields map[string]any) periodType {
	subject := strings.ToLower(str(fields, "subject"))
	switch {
	case strings.Contains(subject, "year") || strings.Contains(subject, "annual"):
		return periodYearly
	case strings.Contains(subject, "month"):
		return periodMonthly
	}
	if days, ok := fields["billing_interval_days"].(float64); ok {
		return classifyPeriodDays(int(days))
	}
	return periodUnknown
}

// classifyPeriodDays maps an interval in days to a period. Calendar
// drift means a month is 27 to 31 days and a year 361 to 366.
func classifyPeriodDays(days int) periodType {
	switch {
	case days >= 27 && days <= 31:
		return periodMonthly
	case days >= 361 && days <= 366:
		return periodYearly
	}
	return periodUnknown
}
