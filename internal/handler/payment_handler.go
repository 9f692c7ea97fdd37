package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/middleware"
	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/internal/service"
	"github.com/GTDGit/gtd_ticketing/internal/utils"
	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

// maxCallbackBody bounds inbound gateway callback bodies.
const maxCallbackBody = 64 << 10

// PaymentInitiator starts gateway checkouts.
type PaymentInitiator interface {
	Initiate(ctx context.Context, in service.InitiateInput, authUserID, requestOrigin string) (*service.InitiateResult, error)
}

// Reconciler applies gateway outcomes to registrations.
type Reconciler interface {
	ReconcileRegistration(ctx context.Context, registrationID string, opts service.ReconcileOptions) (*models.TransactionStatusResult, error)
	ApplyCallback(ctx context.Context, fields map[string]string, opts service.ReconcileOptions) (*models.TransactionStatusResult, error)
	SyncRegistrationTransactions(ctx context.Context, registrationIDs []string, opts service.ReconcileOptions) []models.SyncItemResult
	GetPaymentDetails(ctx context.Context, registrationID string) (*service.PaymentDetails, error)
}

// PendingSyncer reconciles every pending payment in batches.
type PendingSyncer interface {
	RunPendingSync(ctx context.Context, batchSize, scanPageSize int) (*models.SyncReport, error)
}

// PaymentHandler serves the payment entry points.
type PaymentHandler struct {
	payments      PaymentInitiator
	recon         Reconciler
	syncer        PendingSyncer
	statusPageURL string
	maxBatchIDs   int
}

// NewPaymentHandler constructs a PaymentHandler. statusPageURL is where browsers land
// after a gateway redirect; maxBatchIDs caps registrationIds per on-demand request.
func NewPaymentHandler(payments PaymentInitiator, recon Reconciler, syncer PendingSyncer, statusPageURL string, maxBatchIDs int) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		recon:         recon,
		syncer:        syncer,
		statusPageURL: strings.TrimSpace(statusPageURL),
		maxBatchIDs:   maxBatchIDs,
	}
}

// CallbackResponse is returned to JSON clients of the gateway callbacks.
type CallbackResponse struct {
	OK               bool   `json:"ok"`
	PaymentReference string `json:"paymentReference"`
	RegistrationID   string `json:"registrationId"`
	Status           string `json:"status"`
	Flow             string `json:"flow,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Initiate handles POST /payments/initiate
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var in service.InitiateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON")
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), in, middleware.GetUserID(c), requestOrigin(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Payment initiated", result)
}

// Callback handles POST /payments/callback/success and /payments/callback/failure.
// Browsers are redirected to the status page whatever the outcome; JSON clients get
// the result directly.
func (h *PaymentHandler) Callback(c *gin.Context) {
	fields, err := readCallbackFields(c)
	var result *models.TransactionStatusResult
	if err == nil {
		result, err = h.recon.ApplyCallback(c.Request.Context(), fields, service.ReconcileOptions{
			Source:   service.SourceCallback,
			Endpoint: c.FullPath(),
		})
	} else {
		err = utils.NewValidationError("INVALID_PAYLOAD", "Unreadable gateway callback body")
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", c.FullPath()).
			Str("kind", string(utils.KindOf(err))).
			Str("transaction_id", fields["txnid"]).
			Msg("Gateway callback rejected")
	}

	resp := callbackResponse(fields, result, err)
	if h.statusPageURL == "" || c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON {
		if err != nil {
			utils.RespondError(c, utils.AsAppError(err).WithDetails(resp))
			return
		}
		utils.Success(c, http.StatusOK, "Callback processed", resp)
		return
	}

	c.Redirect(http.StatusSeeOther, h.statusRedirectURL(resp))
}

// Webhook handles POST /payments/webhook, the server-to-server callback variant.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	fields, err := readCallbackFields(c)
	if err != nil {
		utils.RespondError(c, utils.NewValidationError("INVALID_PAYLOAD", "Unreadable gateway webhook body"))
		return
	}

	result, err := h.recon.ApplyCallback(c.Request.Context(), fields, service.ReconcileOptions{
		Source:   service.SourceWebhook,
		Endpoint: c.FullPath(),
	})
	if err != nil {
		resp := callbackResponse(fields, result, err)
		utils.RespondError(c, utils.AsAppError(err).WithDetails(resp))
		return
	}
	utils.Success(c, http.StatusOK, "Webhook processed", result)
}

// TransactionStatus handles POST /payments/transaction
func (h *PaymentHandler) TransactionStatus(c *gin.Context) {
	var req service.TransactionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be valid JSON")
		return
	}

	opts := service.ReconcileOptions{Source: service.SourceTransaction}
	if middleware.IsServiceCall(c) {
		opts.Source = service.SourceSync
		opts.SkipFailureEmail = req.SkipFailureEmail
	}

	ids := req.RegistrationIDs
	if req.RegistrationID != "" && len(ids) > 0 {
		ids = append([]string{req.RegistrationID}, ids...)
	}

	switch {
	case len(ids) > 0:
		if h.maxBatchIDs > 0 && len(ids) > h.maxBatchIDs {
			utils.Error(c, http.StatusBadRequest, "TOO_MANY_REGISTRATIONS",
				"At most "+strconv.Itoa(h.maxBatchIDs)+" registrationIds per request")
			return
		}
		results := h.recon.SyncRegistrationTransactions(c.Request.Context(), ids, opts)
		utils.Success(c, http.StatusOK, "Transactions reconciled", service.TransactionBatchResponse{
			Results: results,
			Summary: service.Summarize(results),
		})
	case req.RegistrationID != "":
		result, err := h.recon.ReconcileRegistration(c.Request.Context(), req.RegistrationID, opts)
		if err != nil {
			appErr := utils.AsAppError(err)
			if result != nil {
				appErr = appErr.WithDetails(result)
			}
			utils.RespondError(c, appErr)
			return
		}
		utils.Success(c, http.StatusOK, "Transaction reconciled", result)
	default:
		utils.Error(c, http.StatusBadRequest, "MISSING_FIELD", "registrationId or registrationIds is required")
	}
}

// SyncPending handles GET /payments/cron/sync-pending
func (h *PaymentHandler) SyncPending(c *gin.Context) {
	batchSize, ok := queryInt(c, "batchSize")
	if !ok {
		utils.Error(c, http.StatusBadRequest, "INVALID_QUERY", "batchSize must be an integer")
		return
	}
	scanPageSize, ok := queryInt(c, "scanPageSize")
	if !ok {
		utils.Error(c, http.StatusBadRequest, "INVALID_QUERY", "scanPageSize must be an integer")
		return
	}

	report, err := h.syncer.RunPendingSync(c.Request.Context(), batchSize, scanPageSize)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Pending payments synced", report)
}

// GetPayment handles GET /payments/registrations/:registrationId
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	details, err := h.recon.GetPaymentDetails(c.Request.Context(), c.Param("registrationId"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, http.StatusOK, "Payment retrieved", details)
}

// readCallbackFields reads a form-encoded or JSON gateway body into flat fields.
func readCallbackFields(c *gin.Context) (map[string]string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)

	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == gin.MIMEJSON {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		return easebuzz.FieldsFromJSON(body)
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	if len(fields) == 0 {
		return nil, errors.New("empty callback body")
	}
	return fields, nil
}

func callbackResponse(fields map[string]string, result *models.TransactionStatusResult, err error) CallbackResponse {
	resp := CallbackResponse{
		PaymentReference: fields["txnid"],
		RegistrationID:   fields[easebuzz.UDFRegistrationID],
	}
	if result != nil {
		resp.PaymentReference = result.TransactionID
		resp.RegistrationID = result.RegistrationID
		resp.Status = string(result.PaymentStatus)
		resp.Flow = result.Flow
		resp.Message = result.Message
	}
	if err != nil {
		resp.Status = "error"
		resp.Message = utils.AsAppError(err).Message
		return resp
	}
	resp.OK = true
	return resp
}

func (h *PaymentHandler) statusRedirectURL(resp CallbackResponse) string {
	u, err := url.Parse(h.statusPageURL)
	if err != nil {
		return h.statusPageURL
	}
	q := u.Query()
	q.Set("registrationId", resp.RegistrationID)
	q.Set("transactionId", resp.PaymentReference)
	q.Set("status", resp.Status)
	if resp.Message != "" {
		q.Set("message", resp.Message)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// requestOrigin rebuilds scheme://host this request reached, honouring proxy headers.
func requestOrigin(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme, _, _ = strings.Cut(proto, ",")
	}
	host := c.Request.Host
	if fwd := c.GetHeader("X-Forwarded-Host"); fwd != "" {
		host, _, _ = strings.Cut(fwd, ",")
	}
	return strings.TrimSpace(scheme) + "://" + strings.TrimSpace(host)
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
