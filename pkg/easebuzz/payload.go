package easebuzz

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadShape tags which gateway message a payload came from.
type PayloadShape string

const (
	// ShapeCallback is the flat, signed body posted to the redirect/webhook URLs.
	ShapeCallback PayloadShape = "callback"
	// ShapeRetrieve is the {"status":bool,"msg":...} envelope of the retrieval API.
	ShapeRetrieve PayloadShape = "retrieve"
)

var (
	// ErrUnrecognizedPayload means the payload matches no known gateway shape.
	ErrUnrecognizedPayload = errors.New("unrecognized gateway payload shape")
	// ErrRetrieveRejected means the retrieval API answered status=false.
	ErrRetrieveRejected = errors.New("gateway retrieval rejected")
)

// CallbackData is a gateway payload normalized to one shape.
type CallbackData struct {
	Shape            PayloadShape      `json:"shape"`
	TransactionID    string            `json:"transactionId"`
	Status           string            `json:"status"`
	Amount           string            `json:"amount,omitempty"`
	Mode             string            `json:"mode,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	GatewayPaymentID string            `json:"gatewayPaymentId,omitempty"`
	BankRefNum       string            `json:"bankRefNum,omitempty"`
	RefundAmount     string            `json:"refundAmount,omitempty"`
	RegistrationID   string            `json:"registrationId,omitempty"`
	EventID          string            `json:"eventId,omitempty"`
	UserID           string            `json:"userId,omitempty"`
	Fields           map[string]string `json:"-"`
}

// Message returns the most descriptive gateway message available.
func (d *CallbackData) Message() string {
	if d.ErrorMessage != "" {
		return d.ErrorMessage
	}
	return d.Error
}

// ParseGatewayPayload parses a JSON body from either the callback or the retrieval
// API. For retrieval replies listing several transactions, the one matching
// transactionID is chosen (or the first when transactionID is empty).
func ParseGatewayPayload(raw []byte, transactionID string) (*CallbackData, error) {
	var top map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}

	if msg, ok := top["msg"]; ok {
		return parseRetrieve(top["status"], msg, transactionID)
	}
	if _, ok := top["txnid"]; ok {
		return ExtractCallbackData(flatten(top))
	}
	return nil, ErrUnrecognizedPayload
}

// ExtractCallbackData normalizes flat callback fields (form-encoded or JSON).
func ExtractCallbackData(fields map[string]string) (*CallbackData, error) {
	if fields["txnid"] == "" || fields["status"] == "" {
		return nil, ErrUnrecognizedPayload
	}
	d := normalize(fields)
	d.Shape = ShapeCallback
	return d, nil
}

func parseRetrieve(statusRaw, msgRaw json.RawMessage, transactionID string) (*CallbackData, error) {
	if !truthy(statusRaw) {
		return nil, fmt.Errorf("%w: %s", ErrRetrieveRejected, scalar(msgRaw))
	}

	var entries []map[string]json.RawMessage
	trimmed := bytes.TrimSpace(msgRaw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var one map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
		}
		entries = append(entries, one)
	default:
		return nil, fmt.Errorf("%w: msg is %s", ErrUnrecognizedPayload, scalar(msgRaw))
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty transaction list", ErrRetrieveRejected)
	}

	chosen := flatten(entries[0])
	if transactionID != "" {
		for _, e := range entries {
			f := flatten(e)
			if f["txnid"] == transactionID {
				chosen = f
				break
			}
		}
	}
	if chosen["txnid"] == "" || chosen["status"] == "" {
		return nil, ErrUnrecognizedPayload
	}
	d := normalize(chosen)
	d.Shape = ShapeRetrieve
	return d, nil
}

func normalize(f map[string]string) *CallbackData {
	return &CallbackData{
		TransactionID:    f["txnid"],
		Status:           f["status"],
		Amount:           f["amount"],
		Mode:             first(f, "mode", "payment_mode"),
		Error:            f["error"],
		ErrorMessage:     first(f, "error_Message", "error_message", "errorMessage"),
		GatewayPaymentID: first(f, "easepayid", "easepay_id"),
		BankRefNum:       first(f, "bank_ref_num", "bankRefNum"),
		RefundAmount:     first(f, "refund_amount", "refundAmount"),
		RegistrationID:   f[UDFRegistrationID],
		EventID:          f[UDFEventID],
		UserID:           f[UDFUserID],
		Fields:           f,
	}
}

func first(f map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := f[k]; v != "" {
			return v
		}
	}
	return ""
}

// flatten converts JSON values to their string form: strings unquoted, numbers
// and booleans literal, null empty, objects and arrays kept as raw JSON.
func flatten(m map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = scalar(v)
	}
	return out
}

func scalar(v json.RawMessage) string {
	t := bytes.TrimSpace(v)
	if len(t) == 0 || string(t) == "null" {
		return ""
	}
	if t[0] == '"' {
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
	}
	return string(t)
}

func truthy(v json.RawMessage) bool {
	s := strings.ToLower(scalar(v))
	return s == "true" || s == "1" || s == "success"
}

// FieldsFromJSON reads a flat JSON callback body into string fields.
func FieldsFromJSON(raw []byte) (map[string]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}
	return flatten(top), nil
}
