package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/observability/metrics"
	"Yelp-Navigator/internal/orchestrator"
	"Yelp-Navigator/internal/state"
	"Yelp-Navigator/pkg/logger"
)

const (
	sessionsPrefix = "/api/v1/sessions"
	maxBodyBytes   = 64 << 10
)

// Service 是 API 层依赖的编排能力，由 orchestrator.Orchestrator 实现。
type Service interface {
	HandleTurn(ctx context.Context, sessionID, text string) (*orchestrator.Response, error)
	Resume(ctx context.Context, sessionID string) (*orchestrator.Response, error)
	Session(ctx context.Context, sessionID string) (*state.Conversation, error)
}

// TurnRequest 是提交用户消息的请求体。
type TurnRequest struct {
	Message string `json:"message"`
}

// ErrorResponse 是统一的错误响应体。
type ErrorResponse struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Server 负责暴露 REST 接口，供外部驱动会话。
type Server struct {
	addr         string
	svc          Service
	turnTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithTurnTimeout 限制单个回合的处理时间。
func WithTurnTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.turnTimeout = d
		}
	}
}

// WithTimeouts 设置 HTTP 读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc Service, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		svc:          svc,
		turnTimeout:  90 * time.Second,
		readTimeout:  15 * time.Second,
		writeTimeout: 2 * time.Minute,
		log:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回带指标采集的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(sessionsPrefix, s.handleSessions)
	mux.HandleFunc(sessionsPrefix+"/", s.handleSessions)
	return withMetrics(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务已启动", slog.String("address", s.addr))
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions 解析 /api/v1/sessions[/{id}[/turns|/resume]]。
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, sessionsPrefix), "/")
	parts := strings.Split(rest, "/")
	if rest == "" {
		parts = nil
	}

	switch {
	case len(parts) == 0:
		// 不带 ID 时创建新会话
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleTurn(w, r, "")
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
			return
		}
		s.handleGetSession(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "turns":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleTurn(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "resume":
		if r.Method != http.MethodPost {
			http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
			return
		}
		s.handleResume(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()
	resp, err := s.svc.HandleTurn(ctx, sessionID, req.Message)
	if err != nil {
		s.log.Warn("处理回合失败", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()
	resp, err := s.svc.Resume(ctx, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	st, err := s.svc.Session(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if st == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "会话不存在"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeMalformedRequest:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeCancelled, xerrors.CodeCheckpointFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	msg := err.Error()
	if e, ok := xerrors.From(err); ok {
		msg = e.Message()
	}
	writeJSON(w, statusFor(code), ErrorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeLabel 将路径归一化为路由模板，避免会话 ID 进入指标标签。
func routeLabel(path string) string {
	switch {
	case path == "/metrics", path == "/healthz", path == sessionsPrefix:
		return path
	case strings.HasPrefix(path, sessionsPrefix+"/"):
		switch {
		case strings.HasSuffix(path, "/turns"):
			return sessionsPrefix + "/{id}/turns"
		case strings.HasSuffix(path, "/resume"):
			return sessionsPrefix + "/{id}/resume"
		default:
			return sessionsPrefix + "/{id}"
		}
	default:
		return "other"
	}
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(routeLabel(r.URL.Path), r.Method, rec.status, time.Since(start))
	})
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
