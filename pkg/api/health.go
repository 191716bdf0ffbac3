package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ledgerapply/loadapplier/pkg/service"
)

// Status mirrors the teacher's HealthStatus enum.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Response is the /health JSON body.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single Checker.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Checker is a single dependency health probe, e.g. a dedup-store ping.
// Essential checkers drag the overall status to unhealthy on failure;
// non-essential ones only degrade it.
type Checker interface {
	Name() string
	Check() CheckResult
	Essential() bool
}

// PingChecker wraps any ping-shaped health probe (store, audit sink).
type PingChecker struct {
	name      string
	essential bool
	ping      func() error
}

// NewPingChecker builds a Checker from a ping function, the way the
// teacher's DatabaseChecker wraps a DB ping.
func NewPingChecker(name string, essential bool, ping func() error) *PingChecker {
	return &PingChecker{name: name, essential: essential, ping: ping}
}

func (c *PingChecker) Name() string    { return c.name }
func (c *PingChecker) Essential() bool { return c.essential }

func (c *PingChecker) Check() CheckResult {
	if c.ping == nil {
		return CheckResult{Status: StatusUnhealthy, Error: "ping not configured"}
	}
	if err := c.ping(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// HealthService aggregates the Service's own lifecycle status with any
// registered Checkers.
type HealthService struct {
	svc       *service.Service
	checkers  []Checker
	startTime time.Time
}

func NewHealthService(svc *service.Service) *HealthService {
	return &HealthService{svc: svc, checkers: make([]Checker, 0), startTime: time.Now()}
}

func (h *HealthService) Register(c Checker) {
	h.checkers = append(h.checkers, c)
}

func (h *HealthService) Evaluate() Response {
	checks := make(map[string]CheckResult)
	overall := StatusHealthy

	if h.svc != nil && h.svc.GetStatus() != service.StatusRunning {
		overall = StatusUnhealthy
		checks["service"] = CheckResult{Status: StatusUnhealthy, Message: string(h.svc.GetStatus())}
	} else {
		checks["service"] = CheckResult{Status: StatusHealthy}
	}

	for _, c := range h.checkers {
		result := c.Check()
		checks[c.Name()] = result
		switch {
		case result.Status == StatusUnhealthy && c.Essential():
			overall = StatusUnhealthy
		case result.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    checks,
	}
}

// HealthHandler serves the /health endpoint.
type HealthHandler struct {
	service *HealthService
}

func NewHealthHandler(svc *HealthService) *HealthHandler {
	return &HealthHandler{service: svc}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := h.service.Evaluate()

	statusCode := http.StatusOK
	if resp.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("api: encode health response failed")
	}
}
