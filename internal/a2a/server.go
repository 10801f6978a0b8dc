package a2a

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"Archive-Agents/internal/job"
	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/observability/metrics"
	"Archive-Agents/pkg/logger"
)

// DefaultFreshnessWindow 是签名消息允许的最大时钟偏差。
const DefaultFreshnessWindow = 5 * time.Minute

// Agent 是协议层依赖的编排器能力。
type Agent interface {
	Type() string
	Capabilities() CapabilitySummary
	Status(ctx context.Context) (any, error)
	ActiveJobs() []job.ActiveJob
	AcceptTask(ctx context.Context, params ExecuteTaskParams) error
	HandleCallResult(ctx context.Context, result CallResult) error
}

// ServerConfig 描述协议服务的监听与安全参数。
type ServerConfig struct {
	Addr            string
	FreshnessWindow time.Duration
	AllowedSigners  []string
	WebhookSecret   string
}

// Server 对外暴露 A2A RPC 与辅助 REST 接口。
type Server struct {
	cfg   ServerConfig
	agent Agent
	now   func() time.Time
}

// NewServer 构造协议服务实例。
func NewServer(cfg ServerConfig, agent Agent) *Server {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	return &Server{cfg: cfg, agent: agent, now: time.Now}
}

// Handler 返回完整路由，便于测试与组合。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/rpc", instrument("rpc", s.handleRPC))
	mux.HandleFunc("/health", instrument("health", s.handleHealth))
	mux.HandleFunc("/status", instrument("status", s.handleStatus))
	mux.HandleFunc("/jobs", instrument("jobs", s.handleJobs))
	mux.HandleFunc("/webhook/call-result", instrument("call_result", s.handleCallResult))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		// 无法恢复消息 ID 时关联 ID 固定为 0。
		writeResponse(w, NewError(0, CodeParseError, "请求体解析失败"))
		return
	}

	// 校验顺序固定: 签名、时效、再分发。未签名调用跳过前两步。
	if msg.Signature != "" {
		signer, err := RecoverSigner(msg)
		if err != nil {
			writeResponse(w, NewError(msg.ID, CodeSignatureInvalid, "签名校验失败"))
			return
		}
		if !s.signerAllowed(signer) {
			logger.L().Warn("拒绝未授权的签名者", "signer", signer, "method", msg.Method)
			writeResponse(w, NewError(msg.ID, CodeSignatureInvalid, "签名者未被授权"))
			return
		}
		drift := s.now().Unix() - msg.Timestamp
		if drift < 0 {
			drift = -drift
		}
		if time.Duration(drift)*time.Second > s.cfg.FreshnessWindow {
			writeResponse(w, NewError(msg.ID, CodeMessageExpired, "消息已过期"))
			return
		}
	}

	writeResponse(w, s.dispatch(r.Context(), msg))
}

func (s *Server) dispatch(ctx context.Context, msg Message) Response {
	metrics.IncCounter("rpc_calls_total")

	switch msg.Method {
	case MethodPing:
		agentType := ""
		if s.agent != nil {
			agentType = s.agent.Type()
		}
		return NewSuccess(msg.ID, map[string]string{"status": "ok", "agent": agentType})
	case MethodGetCapabilities:
		if s.agent == nil {
			return NewError(msg.ID, CodeInternalError, "编排器尚未初始化")
		}
		return NewSuccess(msg.ID, s.agent.Capabilities())
	case MethodGetStatus:
		if s.agent == nil {
			return NewError(msg.ID, CodeInternalError, "编排器尚未初始化")
		}
		status, err := s.agent.Status(ctx)
		if err != nil {
			logger.L().Error("查询代理状态失败", "error", err)
			return NewError(msg.ID, CodeInternalError, "查询状态失败")
		}
		return NewSuccess(msg.ID, status)
	case MethodExecuteTask:
		if s.agent == nil {
			return NewError(msg.ID, CodeInternalError, "编排器尚未初始化")
		}
		var params ExecuteTaskParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				return NewError(msg.ID, CodeParseError, "EXECUTE_TASK 参数解析失败")
			}
		}
		if err := s.agent.AcceptTask(ctx, params); err != nil {
			logger.L().Error("接受任务预告失败", "job_id", params.JobID, "error", err)
			return NewError(msg.ID, CodeInternalError, "接受任务失败")
		}
		// 实际执行由 BidAccepted 事件路径驱动，这里仅确认排队。
		return NewSuccess(msg.ID, ExecuteTaskResult{Accepted: true, JobID: params.JobID, Status: "queued"})
	default:
		return NewError(msg.ID, CodeMethodNotFound, "未知方法: "+msg.Method)
	}
}

func (s *Server) signerAllowed(signer string) bool {
	if len(s.cfg.AllowedSigners) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedSigners {
		if ledger.SameAddress(allowed, signer) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "编排器尚未初始化", http.StatusServiceUnavailable)
		return
	}
	status, err := s.agent.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "编排器尚未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"jobs": s.agent.ActiveJobs()})
}

func (s *Server) handleCallResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.WebhookSecret != "" {
		provided := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.WebhookSecret)) != 1 {
			http.Error(w, "回调密钥不匹配", http.StatusUnauthorized)
			return
		}
	}
	if s.agent == nil {
		http.Error(w, "编排器尚未初始化", http.StatusServiceUnavailable)
		return
	}

	var result CallResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "回调负载解析失败", http.StatusBadRequest)
		return
	}
	if err := s.agent.HandleCallResult(r.Context(), result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "received"})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	// 协议信封始终随 HTTP 200 返回，错误在信封内表达。
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录每个入口的请求指标。
func instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
