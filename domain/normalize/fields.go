package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	lo "github.com/samber/lo"
	"github.com/shopspring/decimal"

	"cloud-costs/domain/cloudspending"
)

// optString is a string field that may be absent, null, or a number.
// Decoding never fails; anything that is not a string or number leaves it invalid.
type optString struct {
	Value string
	Valid bool
}

func (o *optString) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		o.Value, o.Valid = s, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		o.Value, o.Valid = n.String(), true
	}
	return nil
}

// or returns the value when it is present and non-blank, else def.
func (o optString) or(def string) string {
	if !o.Valid || strings.TrimSpace(o.Value) == "" {
		return def
	}
	return o.Value
}

// amount is a cost figure sent either as a JSON string ("12.50") or a number (12.5).
type amount struct {
	raw string
}

func (a *amount) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		a.raw = s
		return nil
	}
	a.raw = string(b)
	return nil
}

// decimal parses the amount, degrading to zero on anything unparsable.
func (a amount) decimal() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(a.raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isNull(b []byte) bool {
	return len(b) == 0 || string(bytes.TrimSpace(b)) == "null"
}

// objectKeys returns the keys of a JSON object in document order, without duplicates.
// Values are dropped. Non-objects yield nil.
func objectKeys(raw json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		key, ok := tok.(string)
		if !ok {
			break
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			break
		}
	}
	return lo.Uniq(keys)
}

func joinKeys(keys []string) string {
	return strings.Join(keys, cloudspending.TagSeparator)
}
