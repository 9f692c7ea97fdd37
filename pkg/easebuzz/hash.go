package easebuzz

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Hash sequence tokens. Any other token is looked up in the field map.
const (
	tokenKey  = "key"
	tokenSalt = "salt"
)

// Default sequences mandated by the gateway. Requests put the salt last; responses
// reverse the field order and put the salt first.
var (
	DefaultRequestSequence = []string{
		"key", "txnid", "amount", "productinfo", "firstname", "email",
		"udf1", "udf2", "udf3", "udf4", "udf5", "udf6", "udf7", "udf8", "udf9", "udf10",
		"salt",
	}
	DefaultResponseSequence = []string{
		"salt", "status",
		"udf10", "udf9", "udf8", "udf7", "udf6", "udf5", "udf4", "udf3", "udf2", "udf1",
		"email", "firstname", "productinfo", "amount", "txnid", "key",
	}
	DefaultRetrieveSequence = []string{"key", "txnid", "salt"}
)

// HashSequences holds the field orders used for each signed message.
type HashSequences struct {
	Request  []string
	Response []string
	Retrieve []string
}

// HashVerification is the outcome of checking a response hash. It is a decision,
// never an error.
type HashVerification struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ParseSequence splits a pipe-delimited token list ("key|txnid|...|salt").
// It returns nil for an empty string so callers fall back to defaults.
func ParseSequence(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	seq := make([]string, 0, len(parts))
	for _, p := range parts {
		seq = append(seq, strings.ToLower(strings.TrimSpace(p)))
	}
	return seq
}

// Signer computes and verifies the gateway's SHA-512 pipe-joined hashes.
type Signer struct {
	key  string
	salt string
	seq  HashSequences
}

// NewSigner builds a Signer. Empty sequences fall back to the gateway defaults.
func NewSigner(key, salt string, seq HashSequences) *Signer {
	if len(seq.Request) == 0 {
		seq.Request = DefaultRequestSequence
	}
	if len(seq.Response) == 0 {
		seq.Response = DefaultResponseSequence
	}
	if len(seq.Retrieve) == 0 {
		seq.Retrieve = DefaultRetrieveSequence
	}
	return &Signer{key: key, salt: salt, seq: seq}
}

// Key returns the merchant key.
func (s *Signer) Key() string {
	return s.key
}

// BuildRequestHash hashes an outbound initiate request.
func (s *Signer) BuildRequestHash(fields map[string]string) string {
	return s.digest(s.seq.Request, fields)
}

// BuildResponseHash hashes a gateway response the way the gateway does.
func (s *Signer) BuildResponseHash(fields map[string]string) string {
	return s.digest(s.seq.Response, fields)
}

// BuildRetrieveHash hashes a transaction retrieval request.
func (s *Signer) BuildRetrieveHash(transactionID string) string {
	return s.digest(s.seq.Retrieve, map[string]string{"txnid": transactionID})
}

// VerifyResponseHash recomputes the response hash from fields and compares it with
// fields["hash"].
func (s *Signer) VerifyResponseHash(fields map[string]string) HashVerification {
	if s.salt == "" {
		return HashVerification{Valid: false, Reason: "gateway salt not configured"}
	}
	received := strings.ToLower(strings.TrimSpace(fields["hash"]))
	if received == "" {
		return HashVerification{Valid: false, Reason: "missing hash"}
	}
	if strings.TrimSpace(fields["status"]) == "" {
		return HashVerification{Valid: false, Reason: "missing status"}
	}
	if strings.TrimSpace(fields["txnid"]) == "" {
		return HashVerification{Valid: false, Reason: "missing transaction id"}
	}
	expected := s.BuildResponseHash(fields)
	if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
		return HashVerification{Valid: false, Reason: "hash mismatch"}
	}
	return HashVerification{Valid: true}
}

// digest joins the sequence values with "|" and returns the lowercase hex SHA-512.
// The merchant key always comes from configuration, never from the payload.
func (s *Signer) digest(seq []string, fields map[string]string) string {
	parts := make([]string, len(seq))
	for i, tok := range seq {
		switch tok {
		case tokenSalt:
			parts[i] = s.salt
		case tokenKey:
			parts[i] = s.key
		default:
			parts[i] = fields[tok]
		}
	}
	sum := sha512.Sum512([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
