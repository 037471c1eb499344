package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mtlprog/tokenize/internal/deploy"
	"github.com/mtlprog/tokenize/internal/deployment"
	"github.com/mtlprog/tokenize/internal/domain"
)

const deployBody = `{"assetCode":"STL1","totalValue":"100","totalSupply":"10"}`

func newTestRouter(deployer *mockDeployer, adminAPIKey string) http.Handler {
	return NewRouter(deployment.NewService(deployer, &mockDeploymentRepo{}, noopChecker{}), nil, adminAPIKey)
}

func TestCreateDeploymentRequiresToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong-key", http.StatusUnauthorized},
		{"basic scheme", "Basic secret-key", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"valid token", "Bearer secret-key", http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deployer := &mockDeployer{result: deploy.Result{Status: domain.StatusConfirmed}}
			router := newTestRouter(deployer, "secret-key")

			req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(deployBody))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			wantCalls := 0
			if tt.want == http.StatusCreated {
				wantCalls = 1
			}
			if deployer.calls != wantCalls {
				t.Errorf("deploy calls = %d, want %d", deployer.calls, wantCalls)
			}
		})
	}
}

func TestReadRoutesStayOpen(t *testing.T) {
	router := newTestRouter(&mockDeployer{}, "secret-key")

	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/healthz", ""},
		{http.MethodGet, "/api/v1/deployments", ""},
		{http.MethodPost, "/api/v1/tokenomics/quote", `{"totalValue":"2500000","totalSupply":"1000000"}`},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s %s: status = %d, want 200", tt.method, tt.path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deployments/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deployment: status = %d, want 404 without auth", w.Code)
	}
}

func TestCreateDeploymentOpenWithoutKey(t *testing.T) {
	deployer := &mockDeployer{result: deploy.Result{Status: domain.StatusConfirmed}}
	router := newTestRouter(deployer, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader(deployBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
}

func TestNewServerWriteTimeoutFollowsDeployTimeout(t *testing.T) {
	srv := NewServer("8080", nil, nil, "", 10*time.Minute)

	if srv.WriteTimeout != 10*time.Minute+writeMargin {
		t.Errorf("WriteTimeout = %s, want %s", srv.WriteTimeout, 10*time.Minute+writeMargin)
	}
	if srv.WriteTimeout <= 10*time.Minute {
		t.Error("write timeout must outlast the deployment deadline")
	}
}
