package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cantierecloud/backoffice/internal/auth"
	"github.com/cantierecloud/backoffice/internal/database"
	"github.com/cantierecloud/backoffice/internal/gate"
	"github.com/cantierecloud/backoffice/internal/identity"
	"github.com/cantierecloud/backoffice/internal/profiles"
	"github.com/cantierecloud/backoffice/internal/server"
	"github.com/cantierecloud/backoffice/internal/settings"
	"github.com/cantierecloud/backoffice/internal/store"
)

const (
	signingSecret   = "integration-secret"
	tokenIssuerName = "backoffice-api"
	tokenAudience   = "backoffice-dashboard"
	jsonContentType = "application/json"
	chiefEmail      = "direzione@example.com"
	chiefPassword   = "segretissimo"
	workerEmail     = "operaio@example.com"
	workerPassword  = "cantiere1"
)

func TestLoginAndAdminFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite("file:integration?mode=memory&cache=shared", zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	provider, err := identity.NewLocalProvider(identity.LocalProviderConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build provider: %v", err)
	}
	documentStore, err := store.NewSQLiteStore(db)
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	sessionGate, err := gate.New(gate.Config{Provider: provider, Store: documentStore, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build gate: %v", err)
	}
	settingsService, err := settings.NewService(documentStore)
	if err != nil {
		testContext.Fatalf("failed to build settings service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        tokenIssuerName,
		Audience:      tokenAudience,
	})
	if err != nil {
		testContext.Fatalf("failed to build issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gate:     sessionGate,
		Provider: provider,
		Settings: settingsService,
		Tokens:   issuer,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// Seed the first chief the way the server bootstrap does.
	if _, err := sessionGate.CreateUser(context.Background(), gate.CreateUserInput{
		Email:  chiefEmail,
		Secret: chiefPassword,
		Name:   "Direzione",
		Role:   profiles.RoleChiefExecutive,
	}, "bootstrap"); err != nil {
		testContext.Fatalf("failed to seed chief: %v", err)
	}

	chiefToken := mustLogin(testContext, testServer.URL, chiefEmail, chiefPassword)

	// Chief creates a worker account.
	createBody, _ := json.Marshal(map[string]any{
		"email":    workerEmail,
		"password": workerPassword,
		"name":     "Mario Rossi",
		"role":     "worker",
		"phone":    "+39 333 1234567",
	})
	createResp := mustDo(testContext, http.MethodPost, testServer.URL+"/users", chiefToken, createBody)
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}
	var createdWorker struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&createdWorker); err != nil {
		testContext.Fatalf("failed to decode created user: %v", err)
	}
	if createdWorker.Role != "worker" {
		testContext.Fatalf("unexpected created role: %q", createdWorker.Role)
	}

	// The worker can sign in but not reach the admin surface.
	workerToken := mustLogin(testContext, testServer.URL, workerEmail, workerPassword)
	forbiddenResp := mustDo(testContext, http.MethodGet, testServer.URL+"/users", workerToken, nil)
	forbiddenResp.Body.Close()
	if forbiddenResp.StatusCode != http.StatusForbidden {
		testContext.Fatalf("expected 403 for worker on /users, got %d", forbiddenResp.StatusCode)
	}

	// Chief promotes the worker to site supervisor.
	promoteBody, _ := json.Marshal(map[string]any{"role": "site-supervisor"})
	promoteResp := mustDo(testContext, http.MethodPut, testServer.URL+"/users/"+createdWorker.ID, chiefToken, promoteBody)
	defer promoteResp.Body.Close()
	if promoteResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected promote status: %d", promoteResp.StatusCode)
	}

	// The promoted role shows up in the worker's visibility flags.
	visibilityResp := mustDo(testContext, http.MethodGet, testServer.URL+"/me/visibility", workerToken, nil)
	defer visibilityResp.Body.Close()
	if visibilityResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected visibility status: %d", visibilityResp.StatusCode)
	}
	var visibility struct {
		Role           string `json:"role"`
		CanManageSites bool   `json:"can_manage_sites"`
		CanManageUsers bool   `json:"can_manage_users"`
	}
	if err := json.NewDecoder(visibilityResp.Body).Decode(&visibility); err != nil {
		testContext.Fatalf("failed to decode visibility: %v", err)
	}
	if visibility.Role != "site-supervisor" || !visibility.CanManageSites || visibility.CanManageUsers {
		testContext.Fatalf("unexpected visibility: %+v", visibility)
	}

	// Deleting the profile leaves the identity usable; the next sign-in
	// recreates a default worker profile.
	deleteResp := mustDo(testContext, http.MethodDelete, testServer.URL+"/users/"+createdWorker.ID, chiefToken, nil)
	deleteResp.Body.Close()
	if deleteResp.StatusCode != http.StatusNoContent {
		testContext.Fatalf("unexpected delete status: %d", deleteResp.StatusCode)
	}

	loginBody, _ := json.Marshal(map[string]string{"email": workerEmail, "password": workerPassword})
	reloginResp := mustDo(testContext, http.MethodPost, testServer.URL+"/auth/login", "", loginBody)
	defer reloginResp.Body.Close()
	if reloginResp.StatusCode != http.StatusOK {
		testContext.Fatalf("profile deletion must not revoke the identity, got %d", reloginResp.StatusCode)
	}
	var relogin struct {
		Profile struct {
			Role   string `json:"role"`
			Status string `json:"status"`
		} `json:"profile"`
	}
	if err := json.NewDecoder(reloginResp.Body).Decode(&relogin); err != nil {
		testContext.Fatalf("failed to decode re-login response: %v", err)
	}
	if relogin.Profile.Role != "worker" || relogin.Profile.Status != "active" {
		testContext.Fatalf("expected recreated default profile, got %+v", relogin.Profile)
	}
}

func mustLogin(testContext *testing.T, baseURL, email, password string) string {
	testContext.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	response := mustDo(testContext, http.MethodPost, baseURL+"/auth/login", "", body)
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("login failed with status %d", response.StatusCode)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}
	if payload.AccessToken == "" {
		testContext.Fatalf("expected an access token")
	}
	return payload.AccessToken
}

func mustDo(testContext *testing.T, method, url, token string, body []byte) *http.Response {
	testContext.Helper()
	request, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}
