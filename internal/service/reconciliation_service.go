package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/GTDGit/gtd_ticketing/internal/cache"
	"github.com/GTDGit/gtd_ticketing/internal/metrics"
	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/internal/notify"
	"github.com/GTDGit/gtd_ticketing/internal/repository"
	"github.com/GTDGit/gtd_ticketing/internal/utils"
	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

// Reconciliation sources, used for logs, metrics and notification events.
const (
	SourceCallback    = "callback"
	SourceWebhook     = "webhook"
	SourceTransaction = "transaction"
	SourceSync        = "sync"
)

const (
	defaultConcurrency  = 8
	notificationTimeout = 10 * time.Second
)

// ReconcileOptions tunes one reconciliation pass.
type ReconcileOptions struct {
	// SkipFailureEmail suppresses the failure email for background polls.
	SkipFailureEmail bool
	Source           string
	// Endpoint is the inbound path a callback arrived on, for the audit trail.
	Endpoint string
}

// ReconciliationService applies gateway outcomes to registrations exactly once.
type ReconciliationService struct {
	regs        RegistrationStore
	ledger      PaymentLedger
	logs        PaymentLogStore
	gateway     Gateway
	locker      Locker
	notifier    notify.Notifier
	concurrency int

	pending sync.WaitGroup
}

// NewReconciliationService constructs a ReconciliationService. A nil locker disables
// cross-instance locking; the registration row lock still guards every update.
func NewReconciliationService(
	regs RegistrationStore,
	ledger PaymentLedger,
	logs PaymentLogStore,
	gateway Gateway,
	locker Locker,
	notifier notify.Notifier,
	concurrency int,
) *ReconciliationService {
	if locker == nil {
		locker = nopLocker{}
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &ReconciliationService{
		regs:        regs,
		ledger:      ledger,
		logs:        logs,
		gateway:     gateway,
		locker:      locker,
		notifier:    notifier,
		concurrency: concurrency,
	}
}

// GetRegistrationTransactionLookup returns the payment linkage of a registration.
// Malformed ids are validation errors; unknown or uninitiated registrations are
// not-found errors.
func (s *ReconciliationService) GetRegistrationTransactionLookup(ctx context.Context, registrationID string) (*models.RegistrationLookup, error) {
	if _, err := uuid.Parse(registrationID); err != nil {
		return nil, utils.NewValidationError("INVALID_REGISTRATION_ID", "registrationId must be a valid UUID")
	}
	reg, err := s.regs.GetByID(ctx, registrationID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, utils.ErrRegistrationMissing
		}
		return nil, utils.NewInternalError(fmt.Errorf("load registration: %w", err))
	}
	if reg.TransactionRef() == "" {
		return nil, utils.ErrTransactionMissing
	}
	return &models.RegistrationLookup{
		RegistrationID: reg.ID,
		TransactionID:  reg.TransactionRef(),
		PaymentStatus:  reg.PaymentStatus,
	}, nil
}

// PaymentDetails is a registration's payment linkage with its ledger row and audit trail.
type PaymentDetails struct {
	models.RegistrationLookup
	Payment *models.Payment     `json:"payment,omitempty"`
	Logs    []models.PaymentLog `json:"logs"`
}

// GetPaymentDetails returns the lookup plus the authoritative payment and its logs.
func (s *ReconciliationService) GetPaymentDetails(ctx context.Context, registrationID string) (*PaymentDetails, error) {
	lookup, err := s.GetRegistrationTransactionLookup(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	out := &PaymentDetails{RegistrationLookup: *lookup, Logs: []models.PaymentLog{}}

	p, err := s.ledger.GetByRegistrationID(ctx, registrationID)
	switch {
	case err == nil:
		out.Payment = p
	case !repository.IsNotFound(err):
		return nil, utils.NewInternalError(fmt.Errorf("load payment: %w", err))
	}

	logs, err := s.logs.ListByTransactionID(ctx, lookup.TransactionID)
	if err != nil {
		return nil, utils.NewInternalError(fmt.Errorf("load payment logs: %w", err))
	}
	if logs != nil {
		out.Logs = logs
	}
	return out, nil
}

// ReconcileRegistration polls the gateway for the registration's transaction and
// applies the verified outcome. A payload failing hash verification is a no-op and
// returns the result together with utils.ErrInvalidHash.
func (s *ReconciliationService) ReconcileRegistration(ctx context.Context, registrationID string, opts ReconcileOptions) (*models.TransactionStatusResult, error) {
	if opts.Source == "" {
		opts.Source = SourceTransaction
	}
	lookup, err := s.GetRegistrationTransactionLookup(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	txnID := lookup.TransactionID

	release, err := s.locker.Acquire(ctx, txnID)
	switch {
	case errors.Is(err, cache.ErrLockHeld):
		log.Debug().Str("transaction_id", txnID).Msg("Reconciliation already in progress")
		return &models.TransactionStatusResult{
			RegistrationID: lookup.RegistrationID,
			TransactionID:  txnID,
			Flow:           string(easebuzz.FlowPending),
			PaymentStatus:  lookup.PaymentStatus,
			InProgress:     true,
		}, nil
	case err != nil:
		log.Warn().Err(err).Str("transaction_id", txnID).Msg("Reconcile lock unavailable, continuing without it")
		release = func() {}
	}
	defer release()

	start := time.Now()
	rr := s.gateway.RetrieveTransaction(ctx, txnID)
	metrics.GatewayRequests.WithLabelValues("retrieve", metrics.BoolLabel(rr.OK)).Inc()
	metrics.GatewayLatency.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())

	entry := &models.PaymentLog{
		Action:         models.LogActionTransaction,
		TransactionID:  txnID,
		RegistrationID: strPtr(lookup.RegistrationID),
		Endpoint:       rr.Endpoint,
		Request:        toJSON(rr.RequestPayload),
		Response:       responseJSON(rr.Body, rr.Text),
		HTTPStatus:     intPtr(rr.Status),
	}

	if !rr.OK {
		entry.ErrorMessage = strPtr(rr.Err)
		writeLog(ctx, s.logs, entry)
		log.Error().
			Str("registration_id", lookup.RegistrationID).
			Str("transaction_id", txnID).
			Str("endpoint", rr.Endpoint).
			Int("status_code", rr.Status).
			Str("error", rr.Err).
			Msg("Gateway retrieval failed")
		return nil, utils.NewUpstreamError("Payment gateway retrieval failed", errors.New(rr.Err))
	}

	data, err := easebuzz.ParseGatewayPayload(rr.Body, txnID)
	if err == nil && data.TransactionID != txnID {
		err = fmt.Errorf("%w: gateway returned transaction %s", easebuzz.ErrUnrecognizedPayload, data.TransactionID)
	}
	if err != nil {
		entry.ErrorMessage = strPtr(err.Error())
		writeLog(ctx, s.logs, entry)
		log.Error().
			Err(err).
			Str("registration_id", lookup.RegistrationID).
			Str("transaction_id", txnID).
			Str("endpoint", rr.Endpoint).
			Msg("Unusable gateway retrieval payload")
		return nil, utils.NewUpstreamError("Payment gateway returned an unusable response", err)
	}

	verification := s.gateway.Signer().VerifyResponseHash(data.Fields)
	entry.GatewayStatus = strPtr(data.Status)
	entry.HashValid = &verification.Valid
	if !verification.Valid {
		entry.ErrorMessage = strPtr(verification.Reason)
	}
	writeLog(ctx, s.logs, entry)

	return s.apply(ctx, lookup, data, verification, opts)
}

// ApplyCallback verifies a gateway callback body and applies its outcome.
func (s *ReconciliationService) ApplyCallback(ctx context.Context, fields map[string]string, opts ReconcileOptions) (*models.TransactionStatusResult, error) {
	if opts.Source == "" {
		opts.Source = SourceCallback
	}
	data, err := easebuzz.ExtractCallbackData(fields)
	if err != nil {
		return nil, utils.NewValidationError("INVALID_PAYLOAD", err.Error())
	}
	verification := s.gateway.Signer().VerifyResponseHash(fields)

	reg, lookupErr := s.regs.GetByTransactionID(ctx, data.TransactionID)

	entry := &models.PaymentLog{
		Action:        models.LogActionCallback,
		TransactionID: data.TransactionID,
		Endpoint:      opts.Endpoint,
		Request:       toJSON(maskFields(fields)),
		GatewayStatus: strPtr(data.Status),
		HashValid:     &verification.Valid,
	}
	if reg != nil {
		entry.RegistrationID = strPtr(reg.ID)
	}
	switch {
	case !verification.Valid:
		entry.ErrorMessage = strPtr(verification.Reason)
	case lookupErr != nil:
		entry.ErrorMessage = strPtr(lookupErr.Error())
	}
	writeLog(ctx, s.logs, entry)

	if lookupErr != nil && verification.Valid {
		if repository.IsNotFound(lookupErr) {
			return nil, utils.ErrRegistrationMissing
		}
		return nil, utils.NewInternalError(fmt.Errorf("load registration: %w", lookupErr))
	}

	lookup := &models.RegistrationLookup{TransactionID: data.TransactionID}
	if reg != nil {
		lookup.RegistrationID = reg.ID
		lookup.PaymentStatus = reg.PaymentStatus
	} else {
		lookup.RegistrationID = data.RegistrationID
	}
	return s.apply(ctx, lookup, data, verification, opts)
}

// apply turns a parsed, hash-checked gateway payload into status transitions.
func (s *ReconciliationService) apply(
	ctx context.Context,
	lookup *models.RegistrationLookup,
	data *easebuzz.CallbackData,
	verification easebuzz.HashVerification,
	opts ReconcileOptions,
) (*models.TransactionStatusResult, error) {
	flow := easebuzz.ResolveFlow(data.Status)
	metrics.Reconciliations.WithLabelValues(opts.Source, string(flow)).Inc()

	result := &models.TransactionStatusResult{
		RegistrationID:   lookup.RegistrationID,
		TransactionID:    lookup.TransactionID,
		Flow:             string(flow),
		GatewayStatus:    data.Status,
		HashVerification: models.HashVerification{Valid: verification.Valid, Reason: verification.Reason},
		PaymentStatus:    lookup.PaymentStatus,
		Message:          data.Message(),
		Payload:          toJSON(maskFields(data.Fields)),
	}

	logger := log.With().
		Str("registration_id", lookup.RegistrationID).
		Str("transaction_id", lookup.TransactionID).
		Str("source", opts.Source).
		Str("flow", string(flow)).
		Logger()

	if !verification.Valid {
		metrics.HashFailures.WithLabelValues(opts.Source).Inc()
		logger.Warn().Str("reason", verification.Reason).Msg("Gateway payload failed hash verification")
		return result, utils.ErrInvalidHash
	}

	if !flow.IsTerminal() {
		logger.Info().Str("gateway_status", data.Status).Msg("Payment not settled at gateway")
		return result, nil
	}

	targets, err := targetStatuses(flow, data)
	if err != nil {
		return nil, err
	}

	amount, _ := easebuzz.ParseAmount(data.Amount)
	refund, _ := easebuzz.ParseAmount(data.RefundAmount)
	for _, target := range targets {
		res, err := s.ledger.ApplyOutcome(ctx, models.PaymentOutcome{
			RegistrationID:   lookup.RegistrationID,
			TransactionID:    lookup.TransactionID,
			Status:           target,
			Amount:           amount,
			RefundAmount:     refund,
			Mode:             data.Mode,
			Message:          data.Message(),
			GatewayPaymentID: data.GatewayPaymentID,
		})
		if err != nil {
			logger.Error().Err(err).Str("target", string(target)).Msg("Failed to apply payment outcome")
			if repository.IsNotFound(err) {
				return nil, utils.ErrRegistrationMissing
			}
			return nil, utils.NewInternalError(fmt.Errorf("apply payment outcome: %w", err))
		}
		result.PaymentStatus = res.Current
		if !res.Transitioned {
			continue
		}
		result.Transitioned = true
		metrics.Transitions.WithLabelValues(string(res.Previous), string(res.Current)).Inc()
		logger.Info().
			Str("from", string(res.Previous)).
			Str("to", string(res.Current)).
			Msg("Payment status transitioned")
		s.publish(buildEvent(res, data, lookup.TransactionID, opts))
	}
	return result, nil
}

// targetStatuses maps a terminal flow to the statuses to apply, in order.
// A settled transaction carrying a refund amount is paid and then refunded.
func targetStatuses(flow easebuzz.Flow, data *easebuzz.CallbackData) ([]models.PaymentStatus, error) {
	switch flow {
	case easebuzz.FlowSuccess:
		refund, err := easebuzz.ParseAmount(data.RefundAmount)
		if err != nil {
			return nil, utils.NewUpstreamError("Payment gateway reported an invalid refund amount", err)
		}
		if refund.IsPositive() {
			return []models.PaymentStatus{models.PaymentPaid, models.PaymentRefunded}, nil
		}
		return []models.PaymentStatus{models.PaymentPaid}, nil
	case easebuzz.FlowFailure:
		return []models.PaymentStatus{models.PaymentFailed}, nil
	default:
		return nil, nil
	}
}

func buildEvent(res *models.ApplyResult, data *easebuzz.CallbackData, txnID string, opts ReconcileOptions) *models.PaymentEvent {
	evType, _ := models.EventTypeFor(res.Current)
	reg := res.Registration
	ev := &models.PaymentEvent{
		Type:           evType,
		RegistrationID: reg.ID,
		TransactionID:  txnID,
		EventID:        reg.EventID,
		AttendeeName:   reg.AttendeeName,
		Email:          reg.Email,
		Amount:         reg.Amount.StringFixed(2),
		Quantity:       reg.Quantity,
		PreviousStatus: res.Previous,
		Status:         res.Current,
		Mode:           data.Mode,
		Message:        data.Message(),
		SendEmail:      !(res.Current == models.PaymentFailed && opts.SkipFailureEmail),
		Source:         opts.Source,
		OccurredAt:     time.Now().UTC(),
	}
	if reg.UserID != nil {
		ev.UserID = *reg.UserID
	}
	return ev
}

// publish hands the event to the notifier without blocking the caller. Delivery is
// best effort and never rolls back the applied status.
func (s *ReconciliationService) publish(ev *models.PaymentEvent) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, ev); err != nil {
			metrics.Notifications.WithLabelValues(string(ev.Type), "error").Inc()
			log.Error().
				Err(err).
				Str("registration_id", ev.RegistrationID).
				Str("event", string(ev.Type)).
				Msg("Failed to deliver payment notification")
			return
		}
		metrics.Notifications.WithLabelValues(string(ev.Type), "ok").Inc()
	}()
}

// Wait blocks until in-flight notifications are delivered.
func (s *ReconciliationService) Wait() {
	s.pending.Wait()
}

// SyncRegistrationTransactions reconciles many registrations with bounded
// concurrency. It returns one result per input id, in input order; a failure on
// one id never affects the others.
func (s *ReconciliationService) SyncRegistrationTransactions(ctx context.Context, registrationIDs []string, opts ReconcileOptions) []models.SyncItemResult {
	unique := make([]string, 0, len(registrationIDs))
	index := make(map[string]int, len(registrationIDs))
	for _, id := range registrationIDs {
		if _, ok := index[id]; ok {
			continue
		}
		index[id] = len(unique)
		unique = append(unique, id)
	}

	computed := make([]models.SyncItemResult, len(unique))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range unique {
		i, id := i, id
		g.Go(func() error {
			computed[i] = s.syncOne(ctx, id, opts)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.SyncItemResult, len(registrationIDs))
	for i, id := range registrationIDs {
		out[i] = computed[index[id]]
	}
	return out
}

func (s *ReconciliationService) syncOne(ctx context.Context, id string, opts ReconcileOptions) (item models.SyncItemResult) {
	item.RegistrationID = id
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("registration_id", id).Msg("Reconciliation panicked")
			item = models.SyncItemResult{RegistrationID: id, Error: "Internal server error"}
		}
	}()

	res, err := s.ReconcileRegistration(ctx, id, opts)
	item.Result = res
	if res != nil {
		item.Flow = res.Flow
	}
	if err != nil {
		item.Error = utils.AsAppError(err).Message
		return item
	}
	item.OK = true
	return item
}
