package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/gtd_ticketing/internal/cache"
	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

const (
	testKey  = "MERCHANTKEY"
	testSalt = "MERCHANTSALT"
)

// memStore is an in-memory registration store, payment ledger and audit log that
// mirrors the row-locked semantics of the SQL repositories.
type memStore struct {
	mu       sync.Mutex
	regs     map[string]*models.Registration
	payments map[string]*models.Payment // by transaction id
	logs     []models.PaymentLog
	nextID   int64
	applies  int
}

func newMemStore() *memStore {
	return &memStore{
		regs:     make(map[string]*models.Registration),
		payments: make(map[string]*models.Payment),
	}
}

// addRegistration seeds a registration; txnID may be empty. A pending payment row
// is created for registrations with a transaction id.
func (m *memStore) addRegistration(txnID string, status models.PaymentStatus) *models.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID := uuid.NewString()
	reg := &models.Registration{
		ID:            uuid.NewString(),
		EventID:       uuid.NewString(),
		UserID:        &userID,
		AttendeeName:  "Asha Rao",
		Email:         "asha@example.com",
		Amount:        decimal.RequireFromString("150.00"),
		Quantity:      2,
		PaymentStatus: status,
	}
	if txnID != "" {
		t := txnID
		reg.TransactionID = &t
		m.nextID++
		m.payments[txnID] = &models.Payment{
			ID:             m.nextID,
			RegistrationID: reg.ID,
			TransactionID:  txnID,
			Amount:         reg.Amount,
			Status:         status,
		}
	}
	m.regs[reg.ID] = reg
	return reg
}

func (m *memStore) registration(id string) models.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.regs[id]
}

func (m *memStore) payment(txnID string) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[txnID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (m *memStore) auditLogs() []models.PaymentLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PaymentLog(nil), m.logs...)
}

func (m *memStore) GetByID(_ context.Context, id string) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *reg
	return &cp, nil
}

func (m *memStore) GetByTransactionID(_ context.Context, txnID string) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.regs {
		if reg.TransactionRef() == txnID {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) AssignTransactionID(_ context.Context, id, txnID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[id]
	if !ok {
		return "", sql.ErrNoRows
	}
	if reg.TransactionID == nil {
		t := txnID
		reg.TransactionID = &t
	}
	return *reg.TransactionID, nil
}

func (m *memStore) UpsertPending(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.payments[p.TransactionID]; ok {
		if existing.Status == models.PaymentPending {
			existing.Amount = p.Amount
		}
		p.ID = existing.ID
		p.Status = existing.Status
		return nil
	}
	m.nextID++
	cp := *p
	cp.ID = m.nextID
	cp.Status = models.PaymentPending
	m.payments[p.TransactionID] = &cp
	p.ID = cp.ID
	p.Status = cp.Status
	return nil
}

func (m *memStore) GetByRegistrationID(_ context.Context, regID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.RegistrationID == regID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) ListPendingRegistrationIDs(_ context.Context, offset, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentPending {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	var ids []string
	for i := offset; i < len(pending) && len(ids) < limit; i++ {
		ids = append(ids, pending[i].RegistrationID)
	}
	return ids, nil
}

func (m *memStore) ApplyOutcome(_ context.Context, o models.PaymentOutcome) (*models.ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applies++
	reg, ok := m.regs[o.RegistrationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if reg.TransactionRef() != o.TransactionID {
		return nil, errors.New("transaction does not belong to registration")
	}
	snapshot := *reg
	res := &models.ApplyResult{Previous: reg.PaymentStatus, Current: reg.PaymentStatus, Registration: &snapshot}
	if !models.CanTransition(reg.PaymentStatus, o.Status) {
		return res, nil
	}
	reg.PaymentStatus = o.Status
	if o.Status == models.PaymentPaid {
		reg.IsVerified = true
	}
	p, ok := m.payments[o.TransactionID]
	if !ok {
		m.nextID++
		p = &models.Payment{ID: m.nextID, RegistrationID: o.RegistrationID, TransactionID: o.TransactionID, Amount: o.Amount}
		m.payments[o.TransactionID] = p
	}
	p.Status = o.Status
	if o.Mode != "" {
		mode := o.Mode
		p.Mode = &mode
	}
	if o.Status == models.PaymentRefunded {
		p.RefundAmount = o.RefundAmount
	}
	snapshot.PaymentStatus = o.Status
	res.Current = o.Status
	res.Transitioned = true
	return res, nil
}

func (m *memStore) Create(_ context.Context, l *models.PaymentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memStore) ListByTransactionID(_ context.Context, txnID string) ([]models.PaymentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentLog
	for _, l := range m.logs {
		if l.TransactionID == txnID {
			out = append(out, l)
		}
	}
	return out, nil
}

// fakeGateway signs with a real client and replaces network calls with canned replies.
type fakeGateway struct {
	*easebuzz.Client

	mu        sync.Mutex
	retrieve  map[string]easebuzz.RetrieveResult
	retrieves map[string]int
	initiate  easebuzz.Response
	initiated []*easebuzz.InitiatePayload
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		Client: easebuzz.NewClient(easebuzz.Config{
			Key:         testKey,
			Salt:        testSalt,
			InitiateURL: "https://gw.test/payment/initiateLink",
			PayURL:      "https://gw.test/pay/",
			RetrieveURL: "https://gw.test/transaction/v2.1/retrieve",
		}),
		retrieve:  make(map[string]easebuzz.RetrieveResult),
		retrieves: make(map[string]int),
		initiate: easebuzz.Response{
			OK:       true,
			Status:   200,
			Endpoint: "https://gw.test/payment/initiateLink",
			Body:     json.RawMessage(`{"status":1,"data":"ACCESS123"}`),
		},
	}
}

func (g *fakeGateway) InitiateTransaction(_ context.Context, p *easebuzz.InitiatePayload) easebuzz.Response {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiated = append(g.initiated, p)
	return g.initiate
}

func (g *fakeGateway) RetrieveTransaction(_ context.Context, txnID string) easebuzz.RetrieveResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieves[txnID]++
	res, ok := g.retrieve[txnID]
	if !ok {
		return easebuzz.RetrieveResult{Response: easebuzz.Response{Endpoint: "https://gw.test/transaction/v2.1/retrieve", Err: "request failed: connection refused"}}
	}
	res.RequestPayload = map[string]string{"key": testKey, "txnid": txnID, "hash": "***MASKED***"}
	return res
}

func (g *fakeGateway) retrieveCount(txnID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retrieves[txnID]
}

// gatewayFields builds a callback/retrieve entry signed with salt.
func gatewayFields(salt, txnID, regID, status string, extra map[string]string) map[string]string {
	f := map[string]string{
		"txnid":       txnID,
		"amount":      "150.00",
		"productinfo": "Concert Ticket",
		"firstname":   "Asha",
		"email":       "asha@example.com",
		"status":      status,
		"udf1":        regID,
		"mode":        "UPI",
		"easepayid":   "E0001",
	}
	for k, v := range extra {
		f[k] = v
	}
	f["hash"] = easebuzz.NewSigner(testKey, salt, easebuzz.HashSequences{}).BuildResponseHash(f)
	return f
}

func (g *fakeGateway) setRetrieve(fields map[string]string) {
	body, _ := json.Marshal(map[string]any{"status": true, "msg": []map[string]string{fields}})
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieve[fields["txnid"]] = easebuzz.RetrieveResult{Response: easebuzz.Response{
		OK:       true,
		Status:   200,
		Endpoint: "https://gw.test/transaction/v2.1/retrieve",
		Body:     body,
	}}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.PaymentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev *models.PaymentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) all() []*models.PaymentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.PaymentEvent(nil), n.events...)
}

type heldLocker struct{ held map[string]bool }

func (l heldLocker) Acquire(_ context.Context, txnID string) (func(), error) {
	if l.held[txnID] {
		return nil, cache.ErrLockHeld
	}
	return func() {}, nil
}
