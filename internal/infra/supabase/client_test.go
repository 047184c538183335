package supabase_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/resilience"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/supabase"

	"go.uber.org/zap"
)

func newClient(url string) *supabase.Client {
	logger := zap.NewNop()
	return supabase.NewClient(
		&http.Client{Timeout: time.Second},
		url, "anon", "service",
		resilience.NewCircuitBreaker("test-supabase", logger),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		logger,
	)
}

func TestGetCompany_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/empresas" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "eq.emp-1" {
			t.Errorf("unexpected id filter %q", got)
		}
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer service" {
			t.Error("missing supabase auth headers")
		}
		w.Write([]byte(`[{"id":"emp-1","razao_social":"Metalurgica LTDA","nome_fantasia":null,"cnpj":"11.222.333/0001-81","email":"fin@metal.com.br"}]`))
	}))
	defer srv.Close()

	c, err := newClient(srv.URL).GetCompany(context.Background(), "emp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil || c.LegalName != "Metalurgica LTDA" || c.TradeName != "" || c.TaxID != "11.222.333/0001-81" {
		t.Errorf("unexpected company %+v", c)
	}
}

func TestGetCompany_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := newClient(srv.URL).GetCompany(context.Background(), "missing")
	if err != nil || c != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", c, err)
	}
}

func TestGetCompany_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).GetCompany(context.Background(), "emp-1")

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestGetCompany_ServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id":"emp-1","cnpj":"11222333000181"}]`))
	}))
	defer srv.Close()

	c, err := newClient(srv.URL).GetCompany(context.Background(), "emp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.TaxID != "11222333000181" {
		t.Errorf("unexpected company %+v", c)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGetCompany_RejectedIDIsNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":"22P02","message":"invalid input syntax for type uuid: \"abc\""}`))
	}))
	defer srv.Close()

	c, err := newClient(srv.URL).GetCompany(context.Background(), "abc")
	if err != nil || c != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", c, err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestGetCompany_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`[{"id":"emp-1","cnpj":"11222333000181"}]`))
	}))
	defer srv.Close()

	client := newClient(srv.URL)
	for i := 0; i < 6; i++ {
		if _, err := client.GetCompany(context.Background(), "emp-1"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	fail.Store(false)
	c, err := client.GetCompany(context.Background(), "emp-1")
	if err != nil {
		t.Fatalf("expected breaker closed, got %v", err)
	}
	if c == nil || c.ID != "emp-1" {
		t.Errorf("unexpected company %+v", c)
	}
}
