package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestTokenFromRequestPrefersAuthorizationHeader(t *testing.T) {
	request := httptest.NewRequest("GET", "/chat/ws?access_token=query-token", nil)
	request.Header.Set("Authorization", "Bearer header-token")

	token, err := TokenFromRequest(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header-token" {
		t.Fatalf("expected header token to win, got %q", token)
	}
}

func TestTokenFromRequestFallsBackToQueryParameter(t *testing.T) {
	request := httptest.NewRequest("GET", "/chat/ws?access_token=query-token", nil)

	token, err := TokenFromRequest(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "query-token" {
		t.Fatalf("expected query token, got %q", token)
	}
}

func TestTokenFromRequestRejectsMissingToken(t *testing.T) {
	request := httptest.NewRequest("GET", "/chat/ws", nil)

	if _, err := TokenFromRequest(request); !errors.Is(err, ErrMissingRequestToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	request = httptest.NewRequest("GET", "/chat/ws", nil)
	request.Header.Set("Authorization", "Bearer ")
	if _, err := TokenFromRequest(request); !errors.Is(err, ErrMissingRequestToken) {
		t.Fatalf("expected missing token error for blank bearer, got %v", err)
	}
}
