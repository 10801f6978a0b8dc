package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestPingSendsSignedEnvelope(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wantAddr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rpc" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Method != MethodPing {
			t.Fatalf("unexpected method: %s", msg.Method)
		}
		if msg.Signature == "" {
			t.Fatal("expected signed message")
		}

		payload := fmt.Sprintf("%s\n%d\n{}", msg.Method, msg.Timestamp)
		sig, err := hex.DecodeString(strings.TrimPrefix(msg.Signature, "0x"))
		if err != nil {
			t.Fatalf("decode signature: %v", err)
		}
		pub, err := crypto.SigToPub(accounts.TextHash([]byte(payload)), sig)
		if err != nil {
			t.Fatalf("recover signer: %v", err)
		}
		if got := crypto.PubkeyToAddress(*pub).Hex(); got != wantAddr {
			t.Fatalf("signer = %s, want %s", got, wantAddr)
		}

		_ = json.NewEncoder(w).Encode(Response{ID: msg.ID, Result: json.RawMessage(`{"status":"ok"}`)})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.WithSigningKey(hex.EncodeToString(crypto.FromECDSA(key))); err != nil {
		t.Fatalf("set signing key: %v", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestExecuteTaskDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Method != MethodExecuteTask {
			t.Fatalf("unexpected method: %s", msg.Method)
		}
		var params ExecuteTaskRequest
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		result, _ := json.Marshal(ExecuteTaskResult{Accepted: true, JobID: params.JobID, Status: "queued"})
		_ = json.NewEncoder(w).Encode(Response{ID: msg.ID, Result: result})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := client.ExecuteTask(context.Background(), ExecuteTaskRequest{JobID: 42, Description: "scrape trends"})
	if err != nil {
		t.Fatalf("execute task: %v", err)
	}
	if !result.Accepted || result.JobID != 42 || result.Status != "queued" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		_ = json.NewEncoder(w).Encode(Response{
			ID:    msg.ID,
			Error: &RPCError{Code: "METHOD_NOT_FOUND", Message: "unknown method"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Ping(context.Background())
	if err == nil {
		t.Fatal("expected rpc error")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != "METHOD_NOT_FOUND" {
		t.Fatalf("unexpected error: %v", err)
	}
}
