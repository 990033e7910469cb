package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/caseus-app/caseus-backend/internal/auth"
	"github.com/caseus-app/caseus-backend/internal/cheese"
	"github.com/caseus-app/caseus-backend/internal/database"
	"github.com/caseus-app/caseus-backend/internal/photos"
	"github.com/caseus-app/caseus-backend/internal/rtdb"
	"github.com/caseus-app/caseus-backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type testEnv struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	users   *users.Service
	cheeses *cheese.Service
}

type stubVerifier struct {
	claims auth.ProviderClaims
	err    error
}

func (s stubVerifier) Verify(context.Context, string) (auth.ProviderClaims, error) {
	return s.claims, s.err
}

func newTestEnv(t *testing.T, verifier ProviderVerifier) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "caseus-auth",
		Audience:      "caseus-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("create token issuer: %v", err)
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("create user service: %v", err)
	}

	cheeseService, err := cheese.NewService(cheese.ServiceConfig{
		Database:   db,
		IDProvider: cheese.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("create cheese service: %v", err)
	}

	store, err := photos.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("create object store: %v", err)
	}
	albumService, err := photos.NewAlbumService(photos.AlbumConfig{Store: store})
	if err != nil {
		t.Fatalf("create album service: %v", err)
	}

	treeStore, err := rtdb.NewStore(rtdb.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("create tree store: %v", err)
	}

	if verifier == nil {
		verifier = stubVerifier{claims: auth.ProviderClaims{
			Issuer:  "https://accounts.google.com",
			Subject: "provider-subject",
			Email:   "marie@example.com",
			Name:    "Marie Harel",
		}}
	}

	handler, err := NewHTTPHandler(Dependencies{
		Verifier:          verifier,
		TokenManager:      issuer,
		Users:             userService,
		Cheeses:           cheeseService,
		Albums:            albumService,
		ChatBackend:       treeStore,
		ChatMessageWindow: 50,
		ChatHistoryLimit:  100,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("create handler: %v", err)
	}

	return &testEnv{
		handler: handler,
		issuer:  issuer,
		users:   userService,
		cheeses: cheeseService,
	}
}

// tokenFor resolves an identity for the claims and issues a backend token.
func (env *testEnv) tokenFor(t *testing.T, claims auth.ProviderClaims) (string, users.Profile) {
	t.Helper()
	profile, err := env.users.Resolve(claims)
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	claims.Subject = profile.UserID
	token, _, err := env.issuer.IssueBackendToken(context.Background(), claims)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token, profile
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}
