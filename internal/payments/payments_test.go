package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFindProduct(t *testing.T) {
	t.Parallel()
	product, ok := FindProduct("pack_10")
	if !ok {
		t.Fatal("expected pack_10 in the catalog")
	}
	if product.Tokens != 10 || product.Unlimited() {
		t.Fatalf("unexpected product %+v", product)
	}

	unlimited, ok := FindProduct("unlimited_monthly")
	if !ok {
		t.Fatal("expected unlimited_monthly in the catalog")
	}
	if !unlimited.Unlimited() || unlimited.UnlimitedMonths != 1 {
		t.Fatalf("unexpected product %+v", unlimited)
	}

	if _, ok := FindProduct("pack_999"); ok {
		t.Fatal("unknown code must not resolve")
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()
	body := []byte(`{"eventType":"checkout.completed"}`)
	signature := ComputeSignature("whsec_test", body)

	if !VerifySignature("whsec_test", body, signature) {
		t.Fatal("expected matching signature to verify")
	}
	if VerifySignature("whsec_test", body, signature+"00") {
		t.Fatal("expected tampered signature to fail")
	}
	if VerifySignature("whsec_other", body, signature) {
		t.Fatal("expected signature under a different secret to fail")
	}
	if VerifySignature("whsec_test", []byte(`{}`), signature) {
		t.Fatal("expected signature over a different body to fail")
	}
}

func TestAPIBaseForKey(t *testing.T) {
	t.Parallel()
	if got := apiBaseForKey("creem_test_abc"); got != testAPIBase {
		t.Fatalf("expected test base for test key, got %q", got)
	}
	if got := apiBaseForKey("creem_live_abc"); got != liveAPIBase {
		t.Fatalf("expected live base, got %q", got)
	}
}

func TestCreateCheckout(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkouts" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "creem_test_key" {
			t.Errorf("missing api key header")
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["product_id"] != "prod_a" {
			t.Errorf("unexpected product id %v", payload["product_id"])
		}
		if payload["request_id"] == "" {
			t.Errorf("expected a request id")
		}
		metadata, _ := payload["metadata"].(map[string]any)
		if metadata["device_id"] != "device-test-123" {
			t.Errorf("metadata device id missing: %v", metadata)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":           "ch_123",
			"checkout_url": "https://checkout.example/ch_123",
		})
	}))
	defer server.Close()

	client := NewClient("creem_test_key", WithBaseURL(server.URL))
	session, err := client.CreateCheckout(context.Background(), CheckoutInput{
		ProductID: "prod_a",
		Metadata:  map[string]string{"device_id": "device-test-123", "product_type": "pack_10"},
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if session.SessionID != "ch_123" || session.CheckoutURL != "https://checkout.example/ch_123" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestCreateCheckoutProviderError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid product", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient("creem_test_key", WithBaseURL(server.URL))
	_, err := client.CreateCheckout(context.Background(), CheckoutInput{ProductID: "prod_x"})
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}
