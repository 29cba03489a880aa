package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerify_Verified(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte("VERIFIED"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	ok, err := c.Verify(context.Background(), "txn_id=T-1&payment_status=Completed", "PayPal IPN")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("Verify = false, want true")
	}
	if !strings.HasPrefix(gotBody, "cmd=_notify-validate&") {
		t.Fatalf("verification body must be prefixed with cmd=_notify-validate, got %q", gotBody)
	}
	if !strings.Contains(gotBody, "txn_id=T-1") {
		t.Fatalf("verification body must echo the original payload, got %q", gotBody)
	}
}

func TestVerify_Invalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("INVALID"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	ok, err := c.Verify(context.Background(), "txn_id=T-1", "")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("Verify = true, want false")
	}
}

func TestVerify_UnexpectedAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("WHO KNOWS"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	_, err := c.Verify(context.Background(), "txn_id=T-1", "")
	if err == nil {
		t.Fatalf("expected error for unexpected answer")
	}
}

func TestVerify_NotConfigured(t *testing.T) {
	c := NewClient("")

	_, err := c.Verify(context.Background(), "txn_id=T-1", "")
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
