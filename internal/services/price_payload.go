package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/hanko-field/variants/internal/domain"
)

const pricePrefix = "price_"

// BuildPrices converts the price map of one create request row into prices.
//
// Keys prefixed with "reg_" are region ids; their currency comes from regionCurrencies and the
// price carries a region_id rule. Any other key is an ISO currency code. Empty values are skipped.
// Amounts are converted to minor units using the currency's ISO scale. Every price gets a fresh id;
// new variants never share price rows.
func BuildPrices(input map[string]any, regionCurrencies map[string]string) ([]Price, error) {
	keys := make([]string, 0, len(input))
	for key := range input {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	prices := make([]Price, 0, len(keys))
	for _, key := range keys {
		raw, present := amountString(input[key])
		if !present {
			continue
		}

		var price Price
		if strings.HasPrefix(key, domain.RegionPriceKeyPrefix) {
			code, ok := regionCurrencies[key]
			if !ok || code == "" {
				return nil, &PriceInputError{Key: key, Message: "unknown region"}
			}
			price = Price{
				CurrencyCode: strings.ToLower(code),
				Rules:        map[string]string{domain.PriceRuleRegionID: key},
			}
		} else {
			price = Price{CurrencyCode: strings.ToLower(strings.TrimSpace(key))}
		}

		unit, err := currency.ParseISO(strings.ToUpper(price.CurrencyCode))
		if err != nil {
			return nil, &PriceInputError{Key: key, Message: fmt.Sprintf("unsupported currency %q", price.CurrencyCode)}
		}
		scale, _ := currency.Standard.Rounding(unit)
		amount, err := toMinorUnits(raw, scale)
		if err != nil {
			return nil, &PriceInputError{Key: key, Message: err.Error()}
		}
		price.Amount = amount
		price.ID = pricePrefix + ulid.Make().String()
		prices = append(prices, price)
	}
	return prices, nil
}

// amountString normalises a JSON amount. It reports false for absent or blank values.
func amountString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return fmt.Sprint(v), true
	}
}

// toMinorUnits parses a non-negative decimal string with at most scale fraction digits.
func toMinorUnits(raw string, scale int) (int64, error) {
	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" && hasFrac {
		whole = "0"
	}
	if !isDigits(whole) || (hasFrac && !isDigits(frac)) {
		return 0, fmt.Errorf("amount %q is not a non-negative number", raw)
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > scale {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", raw, scale)
	}
	digits := whole + frac + strings.Repeat("0", scale-len(frac))
	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}
	return amount, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
