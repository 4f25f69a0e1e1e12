package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ledgerforge/forgechain/core"
	"github.com/ledgerforge/forgechain/events"
	"github.com/ledgerforge/forgechain/indexer"
	"github.com/ledgerforge/forgechain/internal/testutil"
)

func newTestServer(t *testing.T, authToken string) *Server {
	t.Helper()
	db := testutil.NewMemDB()
	blockStore := testutil.NewMemBlockStore()
	bc := core.NewBlockchain(blockStore)
	mp := core.NewMempool()
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	chain := core.NewChain()

	handler := NewHandler(bc, mp, chain, idx, "test-chain")
	s := NewServer("127.0.0.1:0", handler, authToken, emitter)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func rpcURL(s *Server) string {
	return fmt.Sprintf("http://%s/", s.Addr().String())
}

func TestServeRPCRejectsMissingAuthToken(t *testing.T) {
	s := newTestServer(t, "secret-token")

	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: "getBlockHeight"})
	resp, err := http.Post(rpcURL(s), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeUnauthorized {
		t.Errorf("expected CodeUnauthorized, got %+v", decoded.Error)
	}
}

func TestServeRPCAcceptsMatchingAuthToken(t *testing.T) {
	s := newTestServer(t, "secret-token")

	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: "getBlockHeight"})
	req, _ := http.NewRequest(http.MethodPost, rpcURL(s), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d want %d", resp.StatusCode, http.StatusOK)
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error != nil {
		t.Errorf("unexpected error: %v", decoded.Error.Message)
	}
}

func TestServeRPCNoAuthRequiredWhenTokenEmpty(t *testing.T) {
	s := newTestServer(t, "")

	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: "getMempoolSize"})
	resp, err := http.Post(rpcURL(s), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestServeRPCRejectsWrongJSONRPCVersion(t *testing.T) {
	s := newTestServer(t, "")

	body, _ := json.Marshal(Request{JSONRPC: "1.0", ID: 1, Method: "getMempoolSize"})
	resp, err := http.Post(rpcURL(s), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeInvalidRequest {
		t.Errorf("expected CodeInvalidRequest, got %+v", decoded.Error)
	}
}

func TestServeRPCRejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t, "")

	resp, err := http.Post(rpcURL(s), "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeParseError {
		t.Errorf("expected CodeParseError, got %+v", decoded.Error)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr().String()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d want %d", resp.StatusCode, http.StatusOK)
	}

	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "ok" {
		t.Errorf("health status: got %q want ok", decoded["status"])
	}
}

func TestHubBroadcastsToSubscribedClient(t *testing.T) {
	emitter := events.NewEmitter()
	hub := NewHub(emitter)
	go hub.Run()

	client := &feedClient{hub: hub, send: make(chan []byte, 8), subs: map[string]bool{string(events.EventTransfer): true}}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	emitter.Emit(events.Event{Type: events.EventTransfer, Data: map[string]any{"from": "1.2.0"}})

	select {
	case msg := <-client.send:
		var decoded feedMessage
		if err := json.Unmarshal(msg, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Type != string(events.EventTransfer) {
			t.Errorf("feed message type: got %q want %q", decoded.Type, events.EventTransfer)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubDoesNotBroadcastToUnsubscribedClient(t *testing.T) {
	emitter := events.NewEmitter()
	hub := NewHub(emitter)
	go hub.Run()

	client := &feedClient{hub: hub, send: make(chan []byte, 8), subs: map[string]bool{}}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	emitter.Emit(events.Event{Type: events.EventTransfer, Data: map[string]any{"from": "1.2.0"}})

	select {
	case msg := <-client.send:
		t.Fatalf("unexpected broadcast to unsubscribed client: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
