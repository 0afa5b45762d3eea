package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"mm-quoter/gateway"
	"mm-quoter/infrastructure/logger"
	"mm-quoter/internal/engine"
	"mm-quoter/news"
)

// StatusSource 提供引擎状态快照。
type StatusSource interface {
	Status() engine.Status
}

// NewsSink 接收运维手动触发的新闻。
type NewsSink interface {
	FlagGlobal(source string) time.Time
	FlagInstrument(instrument gateway.Instrument, source string) (time.Time, bool)
	Handle(h news.Headline) news.Verdict
}

// Config 控制接口配置
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server 运维 HTTP 接口：新闻触发、状态查询、健康检查与指标。
type Server struct {
	cfg     Config
	router  *mux.Router
	status  StatusSource
	news    NewsSink
	metrics http.Handler
	log     *logger.Logger

	httpServer *http.Server
	listener   net.Listener
}

// FlagResponse 新闻触发结果
type FlagResponse struct {
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HeadlineResponse 新闻分类结果
type HeadlineResponse struct {
	Global      bool     `json:"global"`
	Instruments []string `json:"instruments"`
}

// ErrorResponse 错误返回
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewServer(cfg Config, status StatusSource, sink NewsSink, metrics http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		status:  status,
		news:    sink,
		metrics: metrics,
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.news != nil {
		api.HandleFunc("/news", s.handleHeadline).Methods("POST")
		api.HandleFunc("/news/global", s.handleFlagGlobal).Methods("POST")
		api.HandleFunc("/news/{instrument}", s.handleFlagInstrument).Methods("POST")
	}
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler 返回带 CORS 的 handler。
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start 同步监听端口，随后在后台提供服务。
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("control api listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control api stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址（配置端口为 0 时有用）。
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleFlagGlobal(w http.ResponseWriter, r *http.Request) {
	until := s.news.FlagGlobal("api")
	respondJSON(w, FlagResponse{Scope: "global", ExpiresAt: until})
}

func (s *Server) handleFlagInstrument(w http.ResponseWriter, r *http.Request) {
	instrument := gateway.Instrument(mux.Vars(r)["instrument"])
	until, ok := s.news.FlagInstrument(instrument, "api")
	if !ok {
		respondError(w, http.StatusNotFound, "instrument not found", string(instrument))
		return
	}
	respondJSON(w, FlagResponse{Scope: string(instrument), ExpiresAt: until})
}

func (s *Server) handleHeadline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body failed", err.Error())
		return
	}
	var h news.Headline
	if err := json.Unmarshal(body, &h); err != nil {
		respondError(w, http.StatusBadRequest, "invalid headline", err.Error())
		return
	}
	if h.Text == "" && !h.Global && len(h.Instruments) == 0 {
		respondError(w, http.StatusBadRequest, "empty headline", "")
		return
	}
	h.Source = "api"
	v := s.news.Handle(h)
	resp := HeadlineResponse{Global: v.Global, Instruments: make([]string, 0, len(v.Instruments))}
	for _, instrument := range v.Instruments {
		resp.Instruments = append(resp.Instruments, string(instrument))
	}
	respondJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		respondError(w, http.StatusServiceUnavailable, "status unavailable", "no status source")
		return
	}
	respondJSON(w, s.status.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := ""
	if s.status != nil {
		state = s.status.Status().State
	}
	respondJSON(w, map[string]string{"status": "ok", "engine": state})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
