package easebuzz

import "net/url"

// InitiateRequest carries the business input for a payment link.
type InitiateRequest struct {
	// TransactionID reuses an already assigned reference; empty generates a fresh one.
	TransactionID string
	Amount        float64
	ProductInfo   string
	FirstName     string
	Email         string
	Phone         string

	// Round-tripped through the gateway's user-defined fields.
	RegistrationID string
	EventID        string
	UserID         string
}

// InitiatePayload is the signed, form-encoded initiate request.
type InitiatePayload struct {
	TransactionID string
	Amount        string
	Form          url.Values
}

// UDF slots used to carry business ids through the gateway.
const (
	UDFRegistrationID = "udf1"
	UDFEventID        = "udf2"
	UDFUserID         = "udf3"
)

// Callback paths this service exposes; success and failure redirect URLs point here.
const (
	CallbackSuccessPath = "/payments/callback/success"
	CallbackFailurePath = "/payments/callback/failure"
)

// Fields returns the payload as a flat map (hash excluded).
func (p *InitiatePayload) Fields() map[string]string {
	out := make(map[string]string, len(p.Form))
	for k := range p.Form {
		if k == "hash" {
			continue
		}
		out[k] = p.Form.Get(k)
	}
	return out
}

// FormFields returns every posted form field, hash included.
func (p *InitiatePayload) FormFields() map[string]string {
	out := make(map[string]string, len(p.Form))
	for k := range p.Form {
		out[k] = p.Form.Get(k)
	}
	return out
}
