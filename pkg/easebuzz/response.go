package easebuzz

import (
	"encoding/json"
	"errors"
	"strings"
)

// Response is the raw outcome of an outbound gateway call. OK is false for network
// failures, non-2xx statuses, and bodies that are not JSON; Body/Text still hold
// whatever could be read.
type Response struct {
	OK       bool            `json:"ok"`
	Status   int             `json:"status"`
	Endpoint string          `json:"endpoint"`
	Body     json.RawMessage `json:"body,omitempty"`
	Text     string          `json:"text,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// RetrieveResult is the outcome of a transaction status retrieval.
type RetrieveResult struct {
	Response
	RequestPayload map[string]string `json:"requestPayload"`
}

// initiateBody is the initiateLink reply: {"status":1,"data":"<access key>"}.
type initiateBody struct {
	Status    int             `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorDesc string          `json:"error_desc"`
}

// ErrInitiateRejected is returned when the gateway answered but refused the request.
var ErrInitiateRejected = errors.New("gateway rejected initiate request")

// ParseInitiateResponse extracts the access key from an initiate reply.
func ParseInitiateResponse(body json.RawMessage) (string, error) {
	if len(body) == 0 {
		return "", ErrInitiateRejected
	}
	var b initiateBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", err
	}
	var accessKey string
	_ = json.Unmarshal(b.Data, &accessKey)
	if b.Status != 1 || accessKey == "" {
		msg := b.ErrorDesc
		if msg == "" && accessKey != "" {
			msg = accessKey
		}
		if msg == "" {
			return "", ErrInitiateRejected
		}
		return "", errors.Join(ErrInitiateRejected, errors.New(strings.TrimSpace(msg)))
	}
	return accessKey, nil
}
