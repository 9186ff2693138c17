package paypal

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/lanternworks/stitch/types"
)

// Event codes the reporter emits that carry no donor-facing meaning:
// holds, reversals of holds, bank transfers, fee settlements, and
// similar ledger noise. Transactions with these codes are skipped.
var ignoredEventCodes = map[string]bool{
	"T0400": true, // general withdrawal
	"T0401": true, // auto-sweep
	"T0003": true, // pre-approved payment (ledger side)
	"T0007": true, // website payments standard (duplicate of T0006)
	"T0300": true, // general funding
	"T0101": true, // websites payment fee
	"T0200": true, // general currency conversion
	"T1501": true, // account hold
	"T1105": true, // reversal of hold
	"T1106": true, // payment reversal
}

// classify maps a transaction event code and amount to a record kind.
func classify(eventCode string, gross float64) types.RecordKind {
	if ignoredEventCodes[eventCode] {
		return types.KindSkip
	}
	switch eventCode {
	case "T1107":
		// A positive refund is money coming back to the org's own
		// account, not a donor refund to pass along.
		if gross > 0 {
			return types.KindSkip
		}
		return types.KindRefund
	case "T0002":
		// Subscription payments with a negative amount are outbound
		// and carry nothing to forward.
		if gross < 0 {
			return types.KindSkip
		}
		return types.KindSubscription
	case "T0013", "T0000", "T0011", "T0001":
		if gross < 0 {
			return types.KindSkip
		}
		return types.KindDonation
	}
	return types.KindSkip
}

// recordFromTransaction flattens the nested reporting API transaction
// into a flat field map keyed by the names the mapping layer consumes.
func recordFromTransaction(raw map[string]any, fetchedAt time.Time) (types.ExternalRecord, error) {
	info, ok := raw["transaction_info"].(map[string]any)
	if !ok {
		return types.ExternalRecord{}, errors.New("transaction missing transaction_info")
	}

	id, _ := info["transaction_id"].(string)
	if id == "" {
		return types.ExternalRecord{}, errors.New("transaction missing transaction_id")
	}

	eventCode, _ := info["transaction_event_code"].(string)
	gross := amountValue(info["transaction_amount"])
	fee := amountValue(info["fee_amount"])

	fields := map[string]any{
		"event_code": eventCode,
		"status":     stringField(info, "transaction_status"),
		// Fees are reported negative; store the magnitude.
		"gross_amount":     gross,
		"fee_amount":       -fee,
		"subject":          stringField(info, "transaction_subject"),
		"note":             stringField(info, "transaction_note"),
		"reference_id":     stringField(info, "paypal_reference_id"),
		"reference_type":   stringField(info, "paypal_reference_id_type"),
		"account_id":       stringField(info, "paypal_account_id"),
		"transaction_date": stringField(info, "transaction_initiation_date"),
	}

	if payer, ok := raw["payer_info"].(map[string]any); ok {
		if email, ok := payer["email_address"].(string); ok {
			fields["email"] = strings.ToLower(email)
		}
		if name, ok := payer["payer_name"].(map[string]any); ok {
			fields["given_name"] = stringField(name, "given_name")
			fields["surname"] = stringField(name, "surname")
			fields["alternate_full_name"] = stringField(name, "alternate_full_name")
		}
	}

	if shipping, ok := raw["shipping_info"].(map[string]any); ok {
		fields["shipping_name"] = stringField(shipping, "name")
		if addr, ok := shipping["address"].(map[string]any); ok {
			fields["address_line_1"] = stringField(addr, "line1")
			fields["address_line_2"] = stringField(addr, "line2")
			fields["address_city"] = stringField(addr, "city")
			fields["address_state"] = stringField(addr, "state")
			fields["address_postal_code"] = stringField(addr, "postal_code")
			fields["address_country"] = stringField(addr, "country_code")
		}
	}

	return types.ExternalRecord{
		Source:     types.SourcePayPal,
		ExternalID: id,
		Kind:       classify(eventCode, gross),
		Fields:     fields,
		FetchedAt:  fetchedAt,
	}, nil
}

// amountValue extracts a float64 value from the API's
// {"currency_code": ..., "value": "12.34"} shape. Missing or
// malformed amounts read as zero.
func amountValue(v any) float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	s, ok := m["value"].(string)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
