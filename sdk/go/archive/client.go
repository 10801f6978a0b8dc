// Package archive provides a supervisor-side client for the agent RPC
// interface. It signs outgoing messages with an Ethereum private key so
// agents can authenticate the caller.
package archive

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// RPC method names understood by agents.
const (
	MethodPing            = "PING"
	MethodGetCapabilities = "GET_CAPABILITIES"
	MethodGetStatus       = "GET_STATUS"
	MethodExecuteTask     = "EXECUTE_TASK"
)

// Message is the signed request envelope sent to an agent.
type Message struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Response is the agent's reply envelope.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError represents an agent-side failure.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("archive rpc error: %s - %s", e.Code, e.Message)
}

// Capabilities describes what an agent can do.
type Capabilities struct {
	AgentType         string   `json:"agent_type"`
	Capabilities      []string `json:"capabilities"`
	SupportedJobTypes []string `json:"supported_job_types"`
}

// ExecuteTaskRequest asks an agent to prepare for a job.
type ExecuteTaskRequest struct {
	JobID       uint64 `json:"job_id"`
	Description string `json:"description,omitempty"`
}

// ExecuteTaskResult is the agent's acknowledgement.
type ExecuteTaskResult struct {
	Accepted bool   `json:"accepted"`
	JobID    uint64 `json:"job_id"`
	Status   string `json:"status"`
}

// Client wraps the HTTP interactions with an agent's RPC endpoint.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	nextID     atomic.Uint64
}

// NewClient instantiates a client for the given agent endpoint. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// WithSigningKey configures the hex-encoded private key used to sign
// outgoing messages. Unsigned clients can still call open endpoints.
func (c *Client) WithSigningKey(hexKey string) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	c.key = key
	return nil
}

// Address returns the signer address, or an empty string for unsigned clients.
func (c *Client) Address() string {
	if c.key == nil {
		return ""
	}
	return crypto.PubkeyToAddress(c.key.PublicKey).Hex()
}

// Ping checks agent liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, MethodPing, nil)
	return err
}

// GetCapabilities fetches the agent's capability summary.
func (c *Client) GetCapabilities(ctx context.Context) (Capabilities, error) {
	raw, err := c.call(ctx, MethodGetCapabilities, nil)
	if err != nil {
		return Capabilities{}, err
	}
	var caps Capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return Capabilities{}, fmt.Errorf("decode capabilities: %w", err)
	}
	return caps, nil
}

// GetStatus fetches the agent's status snapshot into out, which should be a
// pointer to a struct or map matching the agent's report shape.
func (c *Client) GetStatus(ctx context.Context, out any) error {
	raw, err := c.call(ctx, MethodGetStatus, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	return nil
}

// ExecuteTask notifies the agent of an upcoming job.
func (c *Client) ExecuteTask(ctx context.Context, req ExecuteTaskRequest) (ExecuteTaskResult, error) {
	raw, err := c.call(ctx, MethodExecuteTask, req)
	if err != nil {
		return ExecuteTaskResult{}, err
	}
	var result ExecuteTaskResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ExecuteTaskResult{}, fmt.Errorf("decode execute result: %w", err)
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg := Message{
		ID:        c.nextID.Add(1),
		Method:    method,
		Timestamp: time.Now().Unix(),
	}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		msg.Params = encoded
	}
	if c.key != nil {
		sig, err := signMessage(c.key, msg)
		if err != nil {
			return nil, err
		}
		msg.Signature = sig
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, "/v1/rpc")}
	endpoint := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	if decoded.ID != msg.ID {
		return nil, errors.New("archive: response id does not match request")
	}
	return decoded.Result, nil
}

// signMessage produces the prefixed signature over method, timestamp and the
// canonical JSON encoding of the params.
func signMessage(key *ecdsa.PrivateKey, msg Message) (string, error) {
	canonical := "{}"
	if len(msg.Params) > 0 {
		var decoded any
		if err := json.Unmarshal(msg.Params, &decoded); err != nil {
			return "", fmt.Errorf("canonicalize params: %w", err)
		}
		encoded, err := json.Marshal(decoded)
		if err != nil {
			return "", fmt.Errorf("canonicalize params: %w", err)
		}
		canonical = string(encoded)
	}
	payload := fmt.Sprintf("%s\n%d\n%s", msg.Method, msg.Timestamp, canonical)
	digest := accounts.TextHash([]byte(payload))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}
