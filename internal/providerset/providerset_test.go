package providerset

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/chatforge/backend/internal/crypto"
	"github.com/chatforge/backend/internal/model"
)

func testResolver(t *testing.T) (*Resolver, *crypto.MasterKey) {
	t.Helper()
	key, err := crypto.NewMasterKey(bytes.Repeat([]byte{0x11}, crypto.KeySize))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewResolver(key), key
}

func encryptedProvider(t *testing.T, masterKey *crypto.MasterKey, typ model.ProviderType, apiKey string) *model.Provider {
	t.Helper()
	ciphertext, nonce, err := masterKey.Encrypt([]byte(apiKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &model.Provider{
		ID:              uuid.New(),
		Type:            typ,
		Enabled:         true,
		APIKeyEncrypted: ciphertext,
		APIKeyNonce:     nonce,
	}
}

func TestResolver_ResolveOpenAI(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderOpenAI, "sk-test")

	inst, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Name() != "openai" {
		t.Errorf("expected openai provider, got %q", inst.Name())
	}
}

func TestResolver_ResolveAnthropic(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderAnthropic, "sk-ant-test")

	inst, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Name() != "anthropic" {
		t.Errorf("expected anthropic provider, got %q", inst.Name())
	}
}

func TestResolver_ResolveGemini(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderGemini, "gem-test")

	inst, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Name() != "google" {
		t.Errorf("expected google provider, got %q", inst.Name())
	}
}

func TestResolver_ResolveGenericOpenAICompatible_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderGenericOpenAICompatible, "anything")

	if _, err := r.Resolve(context.Background(), rec); err == nil {
		t.Fatal("expected error without a base_url")
	}

	rec.BaseURL = "https://my-vllm.internal/v1"
	inst, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Name() != "generic_openai_compatible" {
		t.Errorf("expected generic_openai_compatible provider, got %q", inst.Name())
	}
}

func TestResolver_RejectsDisabledProvider(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderOpenAI, "sk-test")
	rec.Enabled = false

	if _, err := r.Resolve(context.Background(), rec); err == nil {
		t.Fatal("expected error for a disabled provider")
	}
}

func TestResolver_CachesResolvedInstance(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderOpenAI, "sk-test")

	first, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected cached resolve to return the same instance")
	}

	r.Invalidate(rec.ID.String())
	third, err := r.Resolve(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == third {
		t.Error("expected a fresh instance after Invalidate")
	}
}

func TestResolver_DecryptFailureSurfacesError(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderOpenAI, "sk-test")
	rec.APIKeyEncrypted[0] ^= 0xFF

	if _, err := r.Resolve(context.Background(), rec); err == nil {
		t.Fatal("expected decrypt failure to surface as an error")
	}
}

func TestResolver_UnknownProviderType(t *testing.T) {
	t.Parallel()
	r, key := testResolver(t)
	rec := encryptedProvider(t, key, model.ProviderType("bogus"), "key")

	if _, err := r.Resolve(context.Background(), rec); err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}
