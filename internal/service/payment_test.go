package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopcore-system/internal/model"
	"github.com/mmeshcher/shopcore-system/internal/repository"
)

const completedIPNBody = "payment_status=Completed&txn_id=TX1&receiver_email=shop%40example.com&custom=15&mc_gross=100.00&mc_currency=USD"

func TestIngestNotification_JournalFailureReturnsError(t *testing.T) {
	repo := &stubRepo{
		createNotificationErr: errors.New("db down"),
	}
	verifier := &stubVerifier{valid: true}
	svc := newTestService(repo, verifier, nil)

	_, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1")
	if err == nil {
		t.Fatalf("expected error when journal write fails")
	}
	if verifier.calls != 0 {
		t.Fatalf("verification must not run before journal write")
	}
}

func TestIngestNotification_CompletedSettlesOrder(t *testing.T) {
	repo := &stubRepo{
		settleResult: &repository.PaymentResult{
			OrderID:       15,
			UserID:        1,
			TotalCents:    10000,
			CashbackCents: 500,
		},
	}
	verifier := &stubVerifier{valid: true}
	svc := newTestService(repo, verifier, nil)

	id, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1")
	if err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}
	if id == "" {
		t.Fatalf("notification id must not be empty")
	}

	if repo.settleCalls != 1 {
		t.Fatalf("settle calls = %d, want 1", repo.settleCalls)
	}
	if repo.settleGross != 10000 {
		t.Fatalf("settle gross = %d, want 10000", repo.settleGross)
	}
	if repo.lastVerification != model.VerificationVerified {
		t.Fatalf("verification = %q, want verified", repo.lastVerification)
	}
	if repo.lastProcessingStatus != model.ProcessingSuccess {
		t.Fatalf("processing = %q, want success", repo.lastProcessingStatus)
	}
	if repo.lastOrderID == nil || *repo.lastOrderID != 15 {
		t.Fatalf("order id not linked to notification")
	}
}

func TestIngestNotification_DuplicateDeliveryHasNoEffects(t *testing.T) {
	repo := &stubRepo{
		duplicate: true,
	}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	if _, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.settleCalls != 0 {
		t.Fatalf("duplicate must not settle the order")
	}
	if repo.lastProcessingStatus != model.ProcessingSuccess {
		t.Fatalf("processing = %q, want success", repo.lastProcessingStatus)
	}
	if repo.lastErrMsg != "duplicate delivery" {
		t.Fatalf("message = %q, want duplicate delivery", repo.lastErrMsg)
	}
}

func TestIngestNotification_InvalidSignature(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubVerifier{valid: false}, nil)

	if _, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.lastVerification != model.VerificationFailed {
		t.Fatalf("verification = %q, want failed", repo.lastVerification)
	}
	if repo.lastProcessingStatus != model.ProcessingError {
		t.Fatalf("processing = %q, want error", repo.lastProcessingStatus)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("unverified notification must not settle the order")
	}
}

func TestIngestNotification_ReceiverMismatch(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	body := strings.Replace(completedIPNBody, "shop%40example.com", "evil%40example.com", 1)
	if _, err := svc.IngestNotification(context.Background(), body, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.lastProcessingStatus != model.ProcessingError {
		t.Fatalf("processing = %q, want error", repo.lastProcessingStatus)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("mismatched receiver must not settle the order")
	}
}

func TestIngestNotification_MalformedBody(t *testing.T) {
	repo := &stubRepo{}
	verifier := &stubVerifier{valid: true}
	svc := newTestService(repo, verifier, nil)

	if _, err := svc.IngestNotification(context.Background(), "payment_status=%zz", "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.createNotificationCalls != 1 {
		t.Fatalf("malformed body must still be journaled")
	}
	if repo.lastVerification != model.VerificationFailed {
		t.Fatalf("verification = %q, want failed", repo.lastVerification)
	}
	if verifier.calls != 0 {
		t.Fatalf("malformed body must not be sent for verification")
	}
}

func TestIngestNotification_FailedPaymentCancelsOrder(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	body := "payment_status=Denied&txn_id=TX2&receiver_email=shop%40example.com&custom=15"
	if _, err := svc.IngestNotification(context.Background(), body, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.failPaymentCalls != 1 {
		t.Fatalf("fail payment calls = %d, want 1", repo.failPaymentCalls)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("denied payment must not settle the order")
	}
	if repo.lastProcessingStatus != model.ProcessingSuccess {
		t.Fatalf("processing = %q, want success", repo.lastProcessingStatus)
	}
}

func TestIngestNotification_IgnoredStatus(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	body := "payment_status=Pending&txn_id=TX3&receiver_email=shop%40example.com&custom=15"
	if _, err := svc.IngestNotification(context.Background(), body, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.settleCalls != 0 || repo.failPaymentCalls != 0 {
		t.Fatalf("ignored status must not touch the order")
	}
	if repo.lastProcessingStatus != model.ProcessingSuccess {
		t.Fatalf("processing = %q, want success", repo.lastProcessingStatus)
	}
}

func TestIngestNotification_AmountMismatchRecorded(t *testing.T) {
	repo := &stubRepo{
		settleErr: repository.ErrAmountMismatch,
	}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	if _, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.lastProcessingStatus != model.ProcessingError {
		t.Fatalf("processing = %q, want error", repo.lastProcessingStatus)
	}
	if repo.lastOrderID == nil || *repo.lastOrderID != 15 {
		t.Fatalf("failed settlement must still link the order")
	}
}

func TestReplayNotification_NotFound(t *testing.T) {
	repo := &stubRepo{
		storedNotificationErr: repository.ErrNotificationNotFound,
	}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	_, err := svc.ReplayNotification(context.Background(), "missing")
	if !errors.Is(err, repository.ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestReplayNotification_RerunsPipeline(t *testing.T) {
	repo := &stubRepo{
		storedNotification: &model.Notification{
			ID:        "old",
			RawBody:   completedIPNBody,
			UserAgent: "PayPal IPN",
			SourceIP:  "10.0.0.1",
		},
		duplicate: true,
	}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	newID, err := svc.ReplayNotification(context.Background(), "old")
	if err != nil {
		t.Fatalf("ReplayNotification error: %v", err)
	}
	if newID == "" || newID == "old" {
		t.Fatalf("replay must create a new journal record, got %q", newID)
	}
	if repo.createNotificationCalls != 1 {
		t.Fatalf("journal calls = %d, want 1", repo.createNotificationCalls)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("duplicate replay must not settle the order")
	}
}

// ipnJournalRepo ведёт реальный журнал эффектов по txn_id: дубликатом
// считается доставка, которая уже произвела эффект над заказом.
type ipnJournalRepo struct {
	stubRepo
	txnByID       map[string]string
	effectiveTxns map[string]bool
}

func newIPNJournalRepo() *ipnJournalRepo {
	return &ipnJournalRepo{
		txnByID:       map[string]string{},
		effectiveTxns: map[string]bool{},
	}
}

func (r *ipnJournalRepo) CreateNotification(ctx context.Context, n *model.Notification) error {
	r.txnByID[n.ID] = n.TxnID
	return r.stubRepo.CreateNotification(ctx, n)
}

func (r *ipnJournalRepo) MarkNotificationProcessed(ctx context.Context, id string, status model.ProcessingStatus, errMsg string, orderID *int64) error {
	if status == model.ProcessingSuccess && orderID != nil {
		r.effectiveTxns[r.txnByID[id]] = true
	}
	return r.stubRepo.MarkNotificationProcessed(ctx, id, status, errMsg, orderID)
}

func (r *ipnJournalRepo) IsDuplicateTxn(ctx context.Context, txnID, excludeID string) (bool, error) {
	return r.effectiveTxns[txnID], nil
}

func TestIngestNotification_PendingThenCompletedSameTxn(t *testing.T) {
	repo := newIPNJournalRepo()
	repo.settleResult = &repository.PaymentResult{
		OrderID:    15,
		UserID:     1,
		TotalCents: 10000,
	}
	svc := NewService(repo, &stubVerifier{valid: true}, &stubMailer{}, zap.NewNop(), testConfig())

	pendingBody := "payment_status=Pending&txn_id=TX9&receiver_email=shop%40example.com&custom=15&mc_gross=100.00&mc_currency=USD"
	completedBody := "payment_status=Completed&txn_id=TX9&receiver_email=shop%40example.com&custom=15&mc_gross=100.00&mc_currency=USD"

	if _, err := svc.IngestNotification(context.Background(), pendingBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("pending delivery: %v", err)
	}
	if repo.settleCalls != 0 {
		t.Fatalf("pending status must not settle the order")
	}
	if repo.lastProcessingStatus != model.ProcessingSuccess {
		t.Fatalf("pending processing = %q, want success", repo.lastProcessingStatus)
	}

	if _, err := svc.IngestNotification(context.Background(), completedBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("completed delivery: %v", err)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("settle calls = %d, want 1: completed after pending must settle", repo.settleCalls)
	}
	if repo.lastOrderID == nil || *repo.lastOrderID != 15 {
		t.Fatalf("order id not linked to the settling delivery")
	}

	if _, err := svc.IngestNotification(context.Background(), completedBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("repeated delivery: %v", err)
	}
	if repo.settleCalls != 1 {
		t.Fatalf("settle calls = %d, want 1: repeated completed is a duplicate", repo.settleCalls)
	}
	if repo.lastErrMsg != "duplicate delivery" {
		t.Fatalf("message = %q, want duplicate delivery", repo.lastErrMsg)
	}
}

func TestIngestNotification_LostRaceClassifiedAsDuplicate(t *testing.T) {
	repo := &stubRepo{
		duplicateSeq: []bool{false, true},
		settleErr:    repository.ErrInvalidTransition,
	}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	if _, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.settleCalls != 1 {
		t.Fatalf("settle calls = %d, want 1", repo.settleCalls)
	}
	if repo.lastProcessingStatus != model.ProcessingSuccess {
		t.Fatalf("processing = %q, want success", repo.lastProcessingStatus)
	}
	if repo.lastErrMsg != "duplicate delivery" {
		t.Fatalf("message = %q, want duplicate delivery", repo.lastErrMsg)
	}
	if repo.lastOrderID != nil {
		t.Fatalf("lost delivery must not claim the order effect")
	}
}

func TestIngestNotification_InvalidTransitionWithoutWinnerIsError(t *testing.T) {
	repo := &stubRepo{
		settleErr: repository.ErrInvalidTransition,
	}
	svc := newTestService(repo, &stubVerifier{valid: true}, nil)

	if _, err := svc.IngestNotification(context.Background(), completedIPNBody, "PayPal IPN", "10.0.0.1"); err != nil {
		t.Fatalf("IngestNotification error: %v", err)
	}

	if repo.lastProcessingStatus != model.ProcessingError {
		t.Fatalf("processing = %q, want error", repo.lastProcessingStatus)
	}
}
