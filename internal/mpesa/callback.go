package mpesa

import (
	"fmt"
	"strconv"
)

// ResultCodeSuccess is the gateway's result code for a completed
// payment; every other code is a terminal failure.
const ResultCodeSuccess = 0

// CallbackEnvelope is the externally fixed notification wrapper the
// gateway posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        int              `json:"ResultCode"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// ReceiptDetails is the flattened success metadata projected into
// typed fields. Balance is optional; the gateway omits it on
// customer-initiated payments.
type ReceiptDetails struct {
	Amount          float64
	Phone           string
	ReceiptNumber   string
	TransactionDate string
	Balance         *float64
}

// ReceiptDetails validates and flattens the name/value metadata list
// of a declared-success callback. Unknown names are ignored; a missing
// required name is an error.
func (cb *STKCallback) ReceiptDetails() (ReceiptDetails, error) {
	items := make(map[string]any, len(cb.CallbackMetadata.Item))
	for _, it := range cb.CallbackMetadata.Item {
		if it.Name != "" {
			items[it.Name] = it.Value
		}
	}

	var (
		det ReceiptDetails
		err error
	)
	if det.Amount, err = numberValue(items, "Amount"); err != nil {
		return ReceiptDetails{}, err
	}
	if det.ReceiptNumber, err = stringValue(items, "MpesaReceiptNumber"); err != nil {
		return ReceiptDetails{}, err
	}
	if det.TransactionDate, err = stringValue(items, "TransactionDate"); err != nil {
		return ReceiptDetails{}, err
	}
	if det.Phone, err = stringValue(items, "PhoneNumber"); err != nil {
		return ReceiptDetails{}, err
	}
	if _, ok := items["Balance"]; ok {
		b, err := numberValue(items, "Balance")
		if err != nil {
			return ReceiptDetails{}, err
		}
		det.Balance = &b
	}
	return det, nil
}

func numberValue(items map[string]any, name string) (float64, error) {
	v, ok := items[name]
	if !ok {
		return 0, fmt.Errorf("callback metadata missing %s", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("callback metadata %s is not numeric", name)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("callback metadata %s is not numeric", name)
	}
}

// stringValue accepts both strings and the numeric values the gateway
// uses for phone numbers and timestamps.
func stringValue(items map[string]any, name string) (string, error) {
	v, ok := items[name]
	if !ok {
		return "", fmt.Errorf("callback metadata missing %s", name)
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return "", fmt.Errorf("callback metadata missing %s", name)
		}
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case int:
		return strconv.Itoa(s), nil
	default:
		return "", fmt.Errorf("callback metadata %s has unexpected type", name)
	}
}
