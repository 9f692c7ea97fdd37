package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/metrics"
	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/internal/repository"
	"github.com/GTDGit/gtd_ticketing/internal/utils"
	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// InitiateInput is the checkout request for one registration.
type InitiateInput struct {
	Amount         float64 `json:"amount"`
	ProductInfo    string  `json:"productInfo"`
	FirstName      string  `json:"firstName"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	EventID        string  `json:"eventId"`
	RegistrationID string  `json:"registrationId"`
	UserID         string  `json:"userId"`
}

// InitiateResult is returned to the browser to start checkout.
type InitiateResult struct {
	PaymentURL    string `json:"paymentUrl"`
	TransactionID string `json:"transactionId"`
}

// PaymentOptions configures the initiate entry point.
type PaymentOptions struct {
	EnforceAuth   bool
	PublicBaseURL string
}

// PaymentService starts gateway checkouts for registrations.
type PaymentService struct {
	regs    RegistrationStore
	ledger  PaymentLedger
	logs    PaymentLogStore
	gateway Gateway
	opts    PaymentOptions
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(regs RegistrationStore, ledger PaymentLedger, logs PaymentLogStore, gateway Gateway, opts PaymentOptions) *PaymentService {
	return &PaymentService{regs: regs, ledger: ledger, logs: logs, gateway: gateway, opts: opts}
}

// Initiate validates the request, links a transaction id to the registration and
// asks the gateway for a checkout link. authUserID is the bearer token subject, if
// any; requestOrigin is used for callback URLs when no public base URL is set.
func (s *PaymentService) Initiate(ctx context.Context, in InitiateInput, authUserID, requestOrigin string) (*InitiateResult, error) {
	if err := validateInitiate(&in); err != nil {
		return nil, err
	}
	amount, err := easebuzz.NormalizeAmount(in.Amount)
	if err != nil {
		return nil, utils.NewValidationError("INVALID_AMOUNT", "Amount must be a positive number")
	}

	userID, err := s.resolveUser(authUserID, in.UserID)
	if err != nil {
		return nil, err
	}

	reg, err := s.regs.GetByID(ctx, in.RegistrationID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, utils.ErrRegistrationMissing
		}
		return nil, utils.NewInternalError(fmt.Errorf("load registration: %w", err))
	}
	if err := checkRegistration(reg, &in, amount, authUserID); err != nil {
		return nil, err
	}
	if userID == "" && reg.UserID != nil {
		userID = *reg.UserID
	}

	callbackBase := s.opts.PublicBaseURL
	if callbackBase == "" {
		callbackBase = requestOrigin
	}

	req := easebuzz.InitiateRequest{
		TransactionID:  reg.TransactionRef(),
		Amount:         in.Amount,
		ProductInfo:    in.ProductInfo,
		FirstName:      in.FirstName,
		Email:          in.Email,
		Phone:          in.Phone,
		RegistrationID: reg.ID,
		EventID:        in.EventID,
		UserID:         userID,
	}
	payload, err := s.gateway.BuildInitiatePayload(req, callbackBase)
	if err != nil {
		if errors.Is(err, easebuzz.ErrInvalidAmount) {
			return nil, utils.NewValidationError("INVALID_AMOUNT", "Amount must be a positive number")
		}
		return nil, utils.NewInternalError(fmt.Errorf("build initiate payload: %w", err))
	}

	if req.TransactionID == "" {
		assigned, err := s.regs.AssignTransactionID(ctx, reg.ID, payload.TransactionID)
		if err != nil {
			return nil, utils.NewInternalError(fmt.Errorf("assign transaction id: %w", err))
		}
		if assigned != payload.TransactionID {
			// A concurrent initiation won; sign again with its id.
			req.TransactionID = assigned
			if payload, err = s.gateway.BuildInitiatePayload(req, callbackBase); err != nil {
				return nil, utils.NewInternalError(fmt.Errorf("build initiate payload: %w", err))
			}
		}
	}

	start := time.Now()
	resp := s.gateway.InitiateTransaction(ctx, payload)
	metrics.GatewayRequests.WithLabelValues("initiate", metrics.BoolLabel(resp.OK)).Inc()
	metrics.GatewayLatency.WithLabelValues("initiate").Observe(time.Since(start).Seconds())

	accessKey, parseErr := "", error(nil)
	if resp.OK {
		accessKey, parseErr = easebuzz.ParseInitiateResponse(resp.Body)
	}

	entry := &models.PaymentLog{
		Action:         models.LogActionInitiate,
		TransactionID:  payload.TransactionID,
		RegistrationID: strPtr(reg.ID),
		Endpoint:       resp.Endpoint,
		Request:        toJSON(maskFields(payload.FormFields())),
		Response:       responseJSON(resp.Body, resp.Text),
		HTTPStatus:     intPtr(resp.Status),
		ErrorMessage:   strPtr(initiateError(resp, parseErr)),
	}
	writeLog(ctx, s.logs, entry)

	if !resp.OK || parseErr != nil {
		log.Error().
			Str("registration_id", reg.ID).
			Str("transaction_id", payload.TransactionID).
			Str("endpoint", resp.Endpoint).
			Int("status_code", resp.Status).
			Str("error", initiateError(resp, parseErr)).
			Msg("Gateway initiate failed")
		cause := parseErr
		if cause == nil {
			cause = errors.New(resp.Err)
		}
		return nil, utils.NewUpstreamError("Payment gateway rejected the request", cause).WithDetails(map[string]any{
			"transactionId": payload.TransactionID,
			"gateway": map[string]any{
				"status":   resp.Status,
				"endpoint": resp.Endpoint,
			},
		})
	}

	amt, _ := easebuzz.ParseAmount(payload.Amount)
	if err := s.ledger.UpsertPending(ctx, &models.Payment{
		RegistrationID: reg.ID,
		TransactionID:  payload.TransactionID,
		Amount:         amt,
	}); err != nil {
		return nil, utils.NewInternalError(fmt.Errorf("record pending payment: %w", err))
	}

	log.Info().
		Str("registration_id", reg.ID).
		Str("transaction_id", payload.TransactionID).
		Str("amount", payload.Amount).
		Msg("Payment initiated")

	return &InitiateResult{
		PaymentURL:    s.gateway.PaymentURL(accessKey),
		TransactionID: payload.TransactionID,
	}, nil
}

// resolveUser picks the acting user: the token subject when present, otherwise the
// caller-supplied id unless authentication is enforced.
func (s *PaymentService) resolveUser(authUserID, bodyUserID string) (string, error) {
	if authUserID != "" {
		return authUserID, nil
	}
	if s.opts.EnforceAuth {
		return "", utils.ErrUnauthenticated
	}
	return strings.TrimSpace(bodyUserID), nil
}

func validateInitiate(in *InitiateInput) error {
	in.ProductInfo = strings.TrimSpace(in.ProductInfo)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.EventID = strings.TrimSpace(in.EventID)
	in.RegistrationID = strings.TrimSpace(in.RegistrationID)

	if _, err := uuid.Parse(in.RegistrationID); err != nil {
		return utils.NewValidationError("INVALID_REGISTRATION_ID", "registrationId must be a valid UUID")
	}
	if in.EventID != "" {
		if _, err := uuid.Parse(in.EventID); err != nil {
			return utils.NewValidationError("INVALID_EVENT_ID", "eventId must be a valid UUID")
		}
	}
	if in.ProductInfo == "" {
		return utils.NewValidationError("MISSING_FIELD", "productInfo is required")
	}
	if in.FirstName == "" {
		return utils.NewValidationError("MISSING_FIELD", "firstName is required")
	}
	if in.Email == "" {
		return utils.NewValidationError("MISSING_FIELD", "email is required")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return utils.NewValidationError("INVALID_EMAIL", "email is not a valid address")
	}
	if !phonePattern.MatchString(in.Phone) {
		return utils.NewValidationError("INVALID_PHONE", "phone must be 10 to 15 digits")
	}
	return nil
}

func checkRegistration(reg *models.Registration, in *InitiateInput, amount, authUserID string) error {
	switch reg.PaymentStatus {
	case models.PaymentPaid:
		return utils.ErrAlreadyPaid
	case models.PaymentRefunded:
		return utils.NewValidationError("REGISTRATION_REFUNDED", "Registration has been refunded")
	}
	if in.EventID == "" {
		in.EventID = reg.EventID
	} else if !strings.EqualFold(in.EventID, reg.EventID) {
		return utils.NewValidationError("EVENT_MISMATCH", "eventId does not match the registration")
	}
	if reg.Amount.IsPositive() && reg.Amount.StringFixed(2) != amount {
		return utils.NewValidationError("AMOUNT_MISMATCH", "amount does not match the registration")
	}
	if authUserID != "" && reg.UserID != nil && !strings.EqualFold(*reg.UserID, authUserID) {
		return &utils.AppError{Kind: utils.KindUnauthorized, Code: "FORBIDDEN_REGISTRATION", Message: "Registration belongs to another user"}
	}
	return nil
}

func initiateError(resp easebuzz.Response, parseErr error) string {
	if resp.Err != "" {
		return resp.Err
	}
	if parseErr != nil {
		return parseErr.Error()
	}
	return ""
}

// responseJSON stores the gateway body, wrapping plain text so it fits jsonb.
func responseJSON(body []byte, text string) json.RawMessage {
	if len(body) > 0 {
		return body
	}
	if text != "" {
		return toJSON(map[string]string{"text": text})
	}
	return nil
}
