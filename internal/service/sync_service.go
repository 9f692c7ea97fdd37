package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/metrics"
	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/internal/utils"
)

// TransactionStatusPath is the on-demand reconciliation endpoint the sync job calls.
const TransactionStatusPath = "/payments/transaction"

// subRequestTimeout bounds one batch sub-request. A batch reconciles with bounded
// fan-out, each gateway call carrying its own timeout.
const subRequestTimeout = 5 * time.Minute

// TransactionStatusRequest is the body of the on-demand reconciliation endpoint.
type TransactionStatusRequest struct {
	RegistrationID   string   `json:"registrationId,omitempty"`
	RegistrationIDs  []string `json:"registrationIds,omitempty"`
	SkipFailureEmail bool     `json:"skipFailureEmail,omitempty"`
}

// BatchSummary counts outcomes of a batch reconciliation.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// TransactionBatchResponse is the data of a multi-id reconciliation response.
type TransactionBatchResponse struct {
	Results []models.SyncItemResult `json:"results"`
	Summary BatchSummary            `json:"summary"`
}

// Summarize counts successful and failed items.
func Summarize(results []models.SyncItemResult) BatchSummary {
	sum := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.OK {
			sum.Successful++
		} else {
			sum.Failed++
		}
	}
	return sum
}

// SyncLimits bounds the pending sync job.
type SyncLimits struct {
	DefaultBatchSize    int
	MaxBatchSize        int
	DefaultScanPageSize int
	MaxScanPageSize     int
}

// SyncService scans pending payments and reconciles them in batches through the
// on-demand endpoint, so background runs share its authorization and logging path.
type SyncService struct {
	ledger     PaymentLedger
	baseURL    string
	secret     string
	limits     SyncLimits
	httpClient *http.Client
}

// NewSyncService constructs a SyncService posting to baseURL with the cron secret.
func NewSyncService(ledger PaymentLedger, baseURL, secret string, limits SyncLimits) *SyncService {
	return &SyncService{
		ledger:     ledger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		secret:     secret,
		limits:     limits,
		httpClient: &http.Client{Timeout: subRequestTimeout},
	}
}

// ClampBatchSize applies the default to non-positive values and caps at the maximum.
func (s *SyncService) ClampBatchSize(n int) int {
	return clamp(n, s.limits.DefaultBatchSize, s.limits.MaxBatchSize)
}

// ClampScanPageSize applies the default to non-positive values and caps at the maximum.
func (s *SyncService) ClampScanPageSize(n int) int {
	return clamp(n, s.limits.DefaultScanPageSize, s.limits.MaxScanPageSize)
}

func clamp(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// RunPendingSync reconciles every pending payment. Batch failures are recorded in
// the report and never stop later batches.
func (s *SyncService) RunPendingSync(ctx context.Context, batchSize, scanPageSize int) (*models.SyncReport, error) {
	report := &models.SyncReport{
		BatchSize:    s.ClampBatchSize(batchSize),
		ScanPageSize: s.ClampScanPageSize(scanPageSize),
		Batches:      []models.SyncBatchReport{},
		StartedAt:    time.Now().UTC(),
	}

	ids, pages, err := s.scanPending(ctx, report.ScanPageSize)
	report.ScannedPages = pages
	if err != nil {
		return nil, utils.NewInternalError(fmt.Errorf("scan pending payments: %w", err))
	}
	report.Totals.Registrations = len(ids)

	for i, start := 0, 0; start < len(ids); i, start = i+1, start+report.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + report.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := s.runBatch(ctx, i+1, ids[start:end])
		metrics.SyncBatches.WithLabelValues(metrics.BoolLabel(batch.OK)).Inc()

		report.Batches = append(report.Batches, batch)
		if batch.OK {
			report.ProcessedBatches++
		}
		report.Totals.Successful += batch.Successful
		report.Totals.Failed += batch.Failed
	}

	report.FinishedAt = time.Now().UTC()
	log.Info().
		Int("registrations", report.Totals.Registrations).
		Int("batches", len(report.Batches)).
		Int("processed_batches", report.ProcessedBatches).
		Int("successful", report.Totals.Successful).
		Int("failed", report.Totals.Failed).
		Msg("Pending payment sync finished")
	return report, nil
}

// scanPending pages through pending registrations, dropping ids seen on an earlier page.
func (s *SyncService) scanPending(ctx context.Context, pageSize int) ([]string, int, error) {
	seen := make(map[string]struct{})
	var ids []string
	pages := 0
	for offset := 0; ; {
		page, err := s.ledger.ListPendingRegistrationIDs(ctx, offset, pageSize)
		if err != nil {
			return nil, pages, err
		}
		pages++
		for _, id := range page {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(page) == 0 || len(page) < pageSize {
			return ids, pages, nil
		}
		offset += len(page)
	}
}

// runBatch posts one batch to the on-demand endpoint.
func (s *SyncService) runBatch(ctx context.Context, n int, ids []string) models.SyncBatchReport {
	rep := models.SyncBatchReport{Batch: n, Size: len(ids)}
	fail := func(msg string) models.SyncBatchReport {
		rep.OK = false
		rep.Successful = 0
		rep.Failed = len(ids)
		rep.Error = msg
		log.Error().Int("batch", n).Int("size", len(ids)).Int("status_code", rep.HTTPStatus).Msg("Pending sync batch failed: " + msg)
		return rep
	}

	body, err := json.Marshal(TransactionStatusRequest{RegistrationIDs: ids, SkipFailureEmail: true})
	if err != nil {
		return fail(err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+TransactionStatusPath, bytes.NewReader(body))
	if err != nil {
		return fail(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.secret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()
	rep.HTTPStatus = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fail(fmt.Sprintf("failed to read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode))
	}

	var envelope struct {
		Data TransactionBatchResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fail(fmt.Sprintf("malformed response: %v", err))
	}

	sum := Summarize(envelope.Data.Results)
	rep.OK = true
	rep.Successful = sum.Successful
	rep.Failed = sum.Failed
	// Ids the endpoint did not answer for count as failed.
	if missing := len(ids) - sum.Total; missing > 0 {
		rep.Failed += missing
	}
	return rep
}
