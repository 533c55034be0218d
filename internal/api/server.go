package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shelfwatch/internal/alerts"
	"shelfwatch/internal/config"
	"shelfwatch/internal/engine"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/model"
	"shelfwatch/internal/status"
)

type PipelineControl interface {
	Reset()
	ResetAlerts()
	SetAlerting(on bool)
	Alerting() bool
	Regions() []model.Region
	AlertStates() []engine.RegionSnapshot
}

type Server struct {
	cfg      *config.Manager
	status   *status.Store
	alerts   *alerts.Store
	pipeline PipelineControl
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Source     sourceStatus  `json:"source"`
	Frames     frameStatus   `json:"frames"`
	Regions    int           `json:"regions"`
	Alerting   bool          `json:"alerting"`
	Sinks      sinkStatus    `json:"sinks"`
	Detection  detectionInfo `json:"detection"`
}

type sourceStatus struct {
	Kind string `json:"kind"`
}

type frameStatus struct {
	LastSeq  uint64 `json:"last_seq"`
	LastTime string `json:"last_time,omitempty"`
}

type sinkStatus struct {
	Log     bool `json:"log"`
	Kafka   bool `json:"kafka"`
	NATS    bool `json:"nats"`
	Storage bool `json:"storage"`
}

type detectionInfo struct {
	Strategy   string `json:"strategy"`
	AutoDetect bool   `json:"auto_detect"`
}

type regionView struct {
	model.Region
	Status *status.Entry          `json:"status,omitempty"`
	Alert  *engine.RegionSnapshot `json:"alert_state,omitempty"`
}

func NewServer(cfg *config.Manager, statusStore *status.Store, alertsStore *alerts.Store, pipeline PipelineControl, m *metrics.Metrics, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		status:   statusStore,
		alerts:   alertsStore,
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/regions", s.handleRegions)
	mux.HandleFunc("/regions/", s.handleRegions)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/admin/reset", s.handleReset)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/alerting", s.handleAlerting)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func Start(ctx context.Context, srv *Server) *http.Server {
	if srv == nil || srv.cfg == nil {
		return nil
	}
	current := srv.cfg.Get().API
	logger := srv.logger
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := config.DefaultConfig()
	path := ""
	if s.cfg != nil {
		cfg = s.cfg.Get()
		path = s.cfg.Path()
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: path,
		Source:     sourceStatus{Kind: cfg.Source.Kind},
		Sinks: sinkStatus{
			Log:     cfg.Sinks.Log,
			Kafka:   cfg.Sinks.Kafka.Enabled,
			NATS:    cfg.Sinks.NATS.Enabled,
			Storage: cfg.Storage.Enabled,
		},
		Detection: detectionInfo{Strategy: cfg.Detection.Strategy, AutoDetect: cfg.Regions.AutoDetect},
	}
	if s.status != nil {
		seq, ts := s.status.Last()
		resp.Frames.LastSeq = seq
		if !ts.IsZero() {
			resp.Frames.LastTime = ts.Format(time.RFC3339Nano)
		}
	}
	if s.pipeline != nil {
		resp.Regions = len(s.pipeline.Regions())
		resp.Alerting = s.pipeline.Alerting()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	views := s.regionViews()
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/regions"), "/")
	if id != "" {
		for _, v := range views {
			if v.ID == id {
				writeJSON(w, http.StatusOK, v)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"regions": views,
		"count":   len(views),
	})
}

func (s *Server) regionViews() []regionView {
	if s.pipeline == nil {
		return []regionView{}
	}
	states := make(map[string]engine.RegionSnapshot)
	for _, st := range s.pipeline.AlertStates() {
		states[st.RegionID] = st
	}
	regions := s.pipeline.Regions()
	out := make([]regionView, 0, len(regions))
	for _, reg := range regions {
		v := regionView{Region: reg}
		if s.status != nil {
			if e, ok := s.status.Get(reg.ID); ok {
				v.Status = &e
			}
		}
		if st, ok := states[reg.ID]; ok {
			v.Alert = &st
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []model.AlertEvent{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.AlertEvent
	switch {
	case r.URL.Query().Get("since") != "":
		ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	case r.URL.Query().Get("region") != "":
		list = s.alerts.ForRegion(r.URL.Query().Get("region"))
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// readTarget reads {"target": "..."} from the body. An empty body or an
// empty target means "all"; an unreadable body is an error.
func readTarget(w http.ResponseWriter, r *http.Request) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var req struct {
		Target string `json:"target"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return "", err
		}
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	return target, nil
}

// handleReset reinitialises background models, alert cooldowns or both.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	target, err := readTarget(w, r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch target {
	case "all":
		s.pipeline.Reset()
		s.pipeline.ResetAlerts()
	case "background":
		s.pipeline.Reset()
	case "alerts", "cooldown":
		s.pipeline.ResetAlerts()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.logger != nil {
		s.logger.Info("reset requested", "remote", r.RemoteAddr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	target, err := readTarget(w, r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch target {
	case "all":
		if s.status != nil {
			s.status.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "status":
		if s.status != nil {
			s.status.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleAlerting(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"enabled": s.pipeline.Alerting()})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Enabled == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.pipeline.SetAlerting(*req.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": *req.Enabled})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
