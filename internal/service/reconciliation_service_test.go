package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/internal/utils"
)

type reconcileFixture struct {
	store    *memStore
	gateway  *fakeGateway
	notifier *recordingNotifier
	svc      *ReconciliationService
}

func newReconcileFixture(t *testing.T, locker Locker) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		store:    newMemStore(),
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
	}
	f.svc = NewReconciliationService(f.store, f.store, f.store, f.gateway, locker, f.notifier, 4)
	return f
}

func TestReconcileRegistration_SuccessfulPayment(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "success", nil))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()

	if res.Flow != "success" || !res.HashVerification.Valid || !res.Transitioned {
		t.Fatalf("result = %+v", res)
	}
	if res.PaymentStatus != models.PaymentPaid {
		t.Fatalf("result status = %s", res.PaymentStatus)
	}
	if got := f.store.registration(reg.ID); got.PaymentStatus != models.PaymentPaid || !got.IsVerified {
		t.Fatalf("registration = %+v", got)
	}
	p := f.store.payment("T1")
	if p.Status != models.PaymentPaid || p.Mode == nil || *p.Mode != "UPI" {
		t.Fatalf("payment = %+v", p)
	}

	events := f.notifier.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != models.EventPaymentSucceeded || ev.Amount != "150.00" || ev.Quantity != 2 || !ev.SendEmail {
		t.Fatalf("event = %+v", ev)
	}
	if ev.PreviousStatus != models.PaymentPending || ev.Status != models.PaymentPaid {
		t.Fatalf("event transition = %s -> %s", ev.PreviousStatus, ev.Status)
	}

	logs := f.store.auditLogs()
	if len(logs) != 1 || logs[0].Action != models.LogActionTransaction {
		t.Fatalf("logs = %+v", logs)
	}
	if logs[0].HashValid == nil || !*logs[0].HashValid {
		t.Fatal("audit log should record a valid hash")
	}
}

func TestReconcileRegistration_TamperedPayloadIsNoop(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)
	f.gateway.setRetrieve(gatewayFields("WRONGSALT", "T1", reg.ID, "success", nil))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if !errors.Is(err, utils.ErrInvalidHash) {
		t.Fatalf("err = %v, want ErrInvalidHash", err)
	}
	f.svc.Wait()

	if res == nil || res.HashVerification.Valid || res.HashVerification.Reason != "hash mismatch" {
		t.Fatalf("result = %+v", res)
	}
	if got := f.store.registration(reg.ID); got.PaymentStatus != models.PaymentPending {
		t.Fatalf("status changed to %s", got.PaymentStatus)
	}
	if f.store.applies != 0 {
		t.Fatalf("applies = %d", f.store.applies)
	}
	if n := len(f.notifier.all()); n != 0 {
		t.Fatalf("events = %d", n)
	}
	logs := f.store.auditLogs()
	if len(logs) != 1 || logs[0].HashValid == nil || *logs[0].HashValid {
		t.Fatalf("audit log must record hash_valid=false: %+v", logs)
	}
}

func TestReconcileRegistration_IdempotentTerminal(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "success", nil))

	for i := 0; i < 2; i++ {
		if _, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{}); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	f.svc.Wait()

	if n := len(f.notifier.all()); n != 1 {
		t.Fatalf("success notifications = %d, want 1", n)
	}
	if n := len(f.store.payments); n != 1 {
		t.Fatalf("payment rows = %d", n)
	}
	if len(f.store.auditLogs()) != 2 {
		t.Fatal("every pass must be audited")
	}
}

func TestReconcileRegistration_PendingFlowIsNoop(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "initiated", nil))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Flow != "pending" || res.Transitioned || f.store.applies != 0 {
		t.Fatalf("result = %+v applies = %d", res, f.store.applies)
	}
}

func TestReconcileRegistration_UnknownFlowIsNoop(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentFailed)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "on_hold", nil))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Flow != "unknown" || res.Transitioned || f.store.applies != 0 {
		t.Fatalf("result = %+v applies = %d", res, f.store.applies)
	}
	if res.PaymentStatus != models.PaymentFailed {
		t.Fatalf("status = %s, want failed", res.PaymentStatus)
	}
}

func TestReconcileRegistration_FailureEmailSuppression(t *testing.T) {
	tests := []struct {
		name      string
		skip      bool
		wantEmail bool
	}{
		{"user facing", false, true},
		{"background poll", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(t, nil)
			reg := f.store.addRegistration("T1", models.PaymentPending)
			f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "failure", map[string]string{"error_Message": "Bank declined"}))

			res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{SkipFailureEmail: tt.skip})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			f.svc.Wait()
			if res.PaymentStatus != models.PaymentFailed || res.Message != "Bank declined" {
				t.Fatalf("result = %+v", res)
			}
			events := f.notifier.all()
			if len(events) != 1 || events[0].Type != models.EventPaymentFailed {
				t.Fatalf("events = %+v", events)
			}
			if events[0].SendEmail != tt.wantEmail {
				t.Fatalf("SendEmail = %v, want %v", events[0].SendEmail, tt.wantEmail)
			}
		})
	}
}

func TestReconcileRegistration_PaidIsNotDowngraded(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPaid)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "failure", nil))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()
	if res.PaymentStatus != models.PaymentPaid || res.Transitioned {
		t.Fatalf("result = %+v", res)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatal("no notification expected")
	}
}

func TestReconcileRegistration_FailedThenPaid(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentFailed)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "success", nil))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PaymentStatus != models.PaymentPaid || !res.Transitioned {
		t.Fatalf("result = %+v", res)
	}
	f.svc.Wait()
}

func TestReconcileRegistration_RecordsRefund(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPaid)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "success", map[string]string{"refund_amount": "150.00"}))

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()
	if res.PaymentStatus != models.PaymentRefunded {
		t.Fatalf("status = %s", res.PaymentStatus)
	}
	if p := f.store.payment("T1"); p.RefundAmount.StringFixed(2) != "150.00" {
		t.Fatalf("refund amount = %s", p.RefundAmount)
	}
	events := f.notifier.all()
	if len(events) != 1 || events[0].Type != models.EventPaymentRefunded {
		t.Fatalf("events = %+v", events)
	}
}

func TestReconcileRegistration_GatewayFailure(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)

	_, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("kind = %s, want upstream", utils.KindOf(err))
	}
	logs := f.store.auditLogs()
	if len(logs) != 1 || logs[0].ErrorMessage == nil {
		t.Fatalf("failed retrieval must be audited: %+v", logs)
	}
}

func TestReconcileRegistration_LockHeld(t *testing.T) {
	f := newReconcileFixture(t, heldLocker{held: map[string]bool{"T1": true}})
	reg := f.store.addRegistration("T1", models.PaymentPending)

	res, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.InProgress || res.PaymentStatus != models.PaymentPending {
		t.Fatalf("result = %+v", res)
	}
	if f.gateway.retrieveCount("T1") != 0 {
		t.Fatal("gateway must not be called while another reconciliation holds the lock")
	}
}

func TestGetRegistrationTransactionLookup(t *testing.T) {
	f := newReconcileFixture(t, nil)
	withTxn := f.store.addRegistration("T1", models.PaymentPending)
	withoutTxn := f.store.addRegistration("", models.PaymentPending)

	tests := []struct {
		name     string
		id       string
		wantKind utils.ErrorKind
	}{
		{"malformed id", "not-a-uuid", utils.KindValidation},
		{"missing registration", uuid.NewString(), utils.KindNotFound},
		{"no transaction yet", withoutTxn.ID, utils.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.GetRegistrationTransactionLookup(context.Background(), tt.id)
			if utils.KindOf(err) != tt.wantKind {
				t.Fatalf("kind = %s, want %s (err %v)", utils.KindOf(err), tt.wantKind, err)
			}
		})
	}

	lookup, err := f.svc.GetRegistrationTransactionLookup(context.Background(), withTxn.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookup.TransactionID != "T1" || lookup.PaymentStatus != models.PaymentPending {
		t.Fatalf("lookup = %+v", lookup)
	}
}

func TestSyncRegistrationTransactions_PartialFailure(t *testing.T) {
	f := newReconcileFixture(t, nil)
	var ids []string
	for _, txn := range []string{"T1", "T2", "T3"} {
		reg := f.store.addRegistration(txn, models.PaymentPending)
		f.gateway.setRetrieve(gatewayFields(testSalt, txn, reg.ID, "success", nil))
		ids = append(ids, reg.ID)
	}
	orphan := f.store.addRegistration("", models.PaymentPending)
	ids = append(ids, orphan.ID)

	results := f.svc.SyncRegistrationTransactions(context.Background(), ids, ReconcileOptions{Source: SourceSync})
	f.svc.Wait()

	if len(results) != len(ids) {
		t.Fatalf("results = %d, want %d", len(results), len(ids))
	}
	failed := 0
	for i, r := range results {
		if r.RegistrationID != ids[i] {
			t.Fatalf("result %d is for %s, want %s", i, r.RegistrationID, ids[i])
		}
		if !r.OK {
			failed++
			if r.RegistrationID != orphan.ID || r.Error == "" {
				t.Fatalf("unexpected failure: %+v", r)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if len(f.notifier.all()) != 3 {
		t.Fatalf("events = %d, want 3", len(f.notifier.all()))
	}
}

func TestSyncRegistrationTransactions_DuplicateIDs(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "success", nil))

	results := f.svc.SyncRegistrationTransactions(context.Background(), []string{reg.ID, reg.ID}, ReconcileOptions{})
	f.svc.Wait()
	if len(results) != 2 || !results[0].OK || !results[1].OK {
		t.Fatalf("results = %+v", results)
	}
	if n := f.gateway.retrieveCount("T1"); n != 1 {
		t.Fatalf("retrieves = %d, want 1", n)
	}
}

func TestApplyCallback(t *testing.T) {
	t.Run("valid success", func(t *testing.T) {
		f := newReconcileFixture(t, nil)
		reg := f.store.addRegistration("T1", models.PaymentPending)
		fields := gatewayFields(testSalt, "T1", reg.ID, "success", nil)

		res, err := f.svc.ApplyCallback(context.Background(), fields, ReconcileOptions{Endpoint: "/payments/callback/success"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f.svc.Wait()
		if res.PaymentStatus != models.PaymentPaid || res.RegistrationID != reg.ID {
			t.Fatalf("result = %+v", res)
		}
		logs := f.store.auditLogs()
		if len(logs) != 1 || logs[0].Action != models.LogActionCallback || logs[0].Endpoint != "/payments/callback/success" {
			t.Fatalf("logs = %+v", logs)
		}
		if string(logs[0].Request) == "" || containsHash(logs[0].Request, fields["hash"]) {
			t.Fatal("audit request must not contain the raw hash")
		}
	})

	t.Run("tampered", func(t *testing.T) {
		f := newReconcileFixture(t, nil)
		reg := f.store.addRegistration("T1", models.PaymentPending)
		fields := gatewayFields(testSalt, "T1", reg.ID, "success", nil)
		fields["amount"] = "1.00"

		_, err := f.svc.ApplyCallback(context.Background(), fields, ReconcileOptions{})
		if !errors.Is(err, utils.ErrInvalidHash) {
			t.Fatalf("err = %v", err)
		}
		if got := f.store.registration(reg.ID); got.PaymentStatus != models.PaymentPending {
			t.Fatalf("status = %s", got.PaymentStatus)
		}
		if len(f.store.auditLogs()) != 1 {
			t.Fatal("tampered callback must be audited")
		}
	})

	t.Run("unknown transaction", func(t *testing.T) {
		f := newReconcileFixture(t, nil)
		fields := gatewayFields(testSalt, "TUNKNOWN", uuid.NewString(), "success", nil)
		_, err := f.svc.ApplyCallback(context.Background(), fields, ReconcileOptions{})
		if utils.KindOf(err) != utils.KindNotFound {
			t.Fatalf("kind = %s", utils.KindOf(err))
		}
	})

	t.Run("unrecognized payload", func(t *testing.T) {
		f := newReconcileFixture(t, nil)
		_, err := f.svc.ApplyCallback(context.Background(), map[string]string{"foo": "bar"}, ReconcileOptions{})
		if utils.KindOf(err) != utils.KindValidation {
			t.Fatalf("kind = %s", utils.KindOf(err))
		}
	})
}

func TestGetPaymentDetails(t *testing.T) {
	f := newReconcileFixture(t, nil)
	reg := f.store.addRegistration("T1", models.PaymentPending)
	f.gateway.setRetrieve(gatewayFields(testSalt, "T1", reg.ID, "success", nil))
	if _, err := f.svc.ReconcileRegistration(context.Background(), reg.ID, ReconcileOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Wait()

	details, err := f.svc.GetPaymentDetails(context.Background(), reg.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details.Payment == nil || details.Payment.Status != models.PaymentPaid {
		t.Fatalf("payment = %+v", details.Payment)
	}
	if len(details.Logs) != 1 {
		t.Fatalf("logs = %d", len(details.Logs))
	}
}

func containsHash(raw []byte, hash string) bool {
	return hash != "" && strings.Contains(string(raw), hash)
}
