package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/spaced/internal/auth"
	"github.com/MarcoPoloResearchLab/spaced/internal/card"
	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
	"github.com/MarcoPoloResearchLab/spaced/internal/server"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func newSyncServer(testContext *testing.T) *httptest.Server {
	testContext.Helper()

	databasePath := filepath.Join(testContext.TempDir(), "sync.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	service, err := server.NewService(server.ServiceConfig{DB: database, Logger: zap.NewNop()})
	if err != nil {
		testContext.Fatalf("failed to build sync service: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "spaced-test",
		Audience:      "spaced-clients",
	})
	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: issuer,
		SyncService:  service,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	syncServer := httptest.NewServer(handler)
	testContext.Cleanup(syncServer.Close)
	return syncServer
}

func registeredClient(testContext *testing.T, baseURL string) *Client {
	testContext.Helper()

	client, err := NewClient(ClientConfig{BaseURL: baseURL})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}
	credentials, err := client.Register(context.Background())
	if err != nil {
		testContext.Fatalf("failed to register: %v", err)
	}
	if credentials.ClientID == "" || credentials.AccessToken == "" {
		testContext.Fatalf("incomplete credentials: %+v", credentials)
	}
	return client
}

func cardOperation(id string, timestamp int64) oplog.CardOperation {
	return oplog.CardOperation{
		Payload: oplog.CardPayload{
			ID:    id,
			Due:   time.UnixMilli(timestamp).UTC(),
			State: card.StateNew,
		},
		Timestamp: timestamp,
	}
}

func TestClientRoundTripsOperations(testContext *testing.T) {
	syncServer := newSyncServer(testContext)

	writer := registeredClient(testContext, syncServer.URL)
	reader := registeredClient(testContext, syncServer.URL)

	ctx := context.Background()
	if err := writer.Push(ctx, []oplog.Operation{cardOperation("c1", 10), cardOperation("c2", 20)}); err != nil {
		testContext.Fatalf("failed to push: %v", err)
	}

	batch, err := reader.Pull(ctx, 0)
	if err != nil {
		testContext.Fatalf("failed to pull: %v", err)
	}
	if len(batch) != 2 {
		testContext.Fatalf("expected 2 operations, got %d", len(batch))
	}
	if batch[0].SeqNo != 1 || batch[1].SeqNo != 2 {
		testContext.Fatalf("unexpected sequence numbers: %d, %d", batch[0].SeqNo, batch[1].SeqNo)
	}

	own, err := writer.Pull(ctx, 0)
	if err != nil {
		testContext.Fatalf("failed to pull own view: %v", err)
	}
	if len(own) != 0 {
		testContext.Fatalf("expected own operations to be excluded, got %d", len(own))
	}

	caughtUp, err := reader.Pull(ctx, 2)
	if err != nil {
		testContext.Fatalf("failed to pull past cursor: %v", err)
	}
	if len(caughtUp) != 0 {
		testContext.Fatalf("expected empty batch past the cursor, got %d", len(caughtUp))
	}
}

func TestClientRequiresTokenForSync(testContext *testing.T) {
	syncServer := newSyncServer(testContext)

	client, err := NewClient(ClientConfig{BaseURL: syncServer.URL})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}

	ctx := context.Background()
	if err := client.Push(ctx, []oplog.Operation{cardOperation("c1", 10)}); err == nil {
		testContext.Fatal("expected push without a token to fail")
	}
	if _, err := client.Pull(ctx, 0); err == nil {
		testContext.Fatal("expected pull without a token to fail")
	}
}

func TestClientSurfacesServerErrors(testContext *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"sync_failed"}`, http.StatusInternalServerError)
	}))
	testContext.Cleanup(failing.Close)

	client, err := NewClient(ClientConfig{BaseURL: failing.URL, AccessToken: "token"})
	if err != nil {
		testContext.Fatalf("failed to build client: %v", err)
	}
	if err := client.Push(context.Background(), []oplog.Operation{cardOperation("c1", 10)}); err == nil {
		testContext.Fatal("expected push against failing server to error")
	}
}

func TestNewClientRejectsEmptyBaseURL(testContext *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		testContext.Fatal("expected empty base url to be rejected")
	}
}
