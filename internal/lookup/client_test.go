package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridian-eyecare/queuepulse/internal/realtime"
)

func TestLookupPatientResolvesName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/patients/p-77" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("expected bearer token on the request, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":         "p-77",
			"first_name": "Marta",
			"last_name":  "Reyes",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Token: "tok-1"})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	name, err := client.LookupPatient(context.Background(), "p-77")
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if name.Display() != "Marta Reyes" {
		t.Fatalf("unexpected display name %q", name.Display())
	}
}

func TestLookupPatientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	if _, err := client.LookupPatient(context.Background(), "p-unknown"); !errors.Is(err, realtime.ErrPatientNotFound) {
		t.Fatalf("expected not-found sentinel, got %v", err)
	}
}

func TestLookupPatientServerErrorIsNotNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	_, err = client.LookupPatient(context.Background(), "p-1")
	if err == nil {
		t.Fatalf("expected an error for a server failure")
	}
	if errors.Is(err, realtime.ErrPatientNotFound) {
		t.Fatalf("server failure must not look like a missing patient")
	}
}

func TestLookupPatientHonorsContextDeadline(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.LookupPatient(ctx, "p-1"); err == nil {
		t.Fatalf("expected a deadline error")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestLookupPatientEmptyIdentifierIsNotFound(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	if _, err := client.LookupPatient(context.Background(), "  "); !errors.Is(err, realtime.ErrPatientNotFound) {
		t.Fatalf("expected not-found for empty identifier, got %v", err)
	}
}
