package config

import (
	"testing"
	"time"
)

func TestValidateAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{AdminKey: "secret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.FreeTrialCount != 10 {
		t.Fatalf("expected default free trial count, got %d", cfg.FreeTrialCount)
	}
	if cfg.MinDeviceIDLength != 10 {
		t.Fatalf("expected default min device id length, got %d", cfg.MinDeviceIDLength)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("expected default request timeout, got %v", cfg.RequestTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("expected permissive default origins, got %v", cfg.AllowedOrigins)
	}
}

func TestValidateRequiresAdminKey(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing admin key to fail validation")
	}
}

func TestCreemProductIDResolution(t *testing.T) {
	t.Parallel()
	cfg := Config{
		AdminKey:        "secret",
		CreemProductIDs: `{"pack_10":"prod_a","pack_50":"prod_b"}`,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	id, ok := cfg.CreemProductID(ProductPack10)
	if !ok || id != "prod_a" {
		t.Fatalf("expected prod_a, got %q ok=%v", id, ok)
	}
	if _, ok := cfg.CreemProductID(ProductUnlimitedMonthly); ok {
		t.Fatal("expected unmapped product to be absent")
	}
}

func TestValidateRejectsMalformedProductIDs(t *testing.T) {
	t.Parallel()
	cfg := Config{AdminKey: "secret", CreemProductIDs: "{not json"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected malformed product id map to fail validation")
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	t.Parallel()
	origins := ParseAllowedOrigins(" https://a.example , ,https://b.example ")
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", origins)
	}
	if got := ParseAllowedOrigins("  "); len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}
