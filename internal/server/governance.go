package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListViolations handles GET /v1/violations?limit=N — the violation feed
// consumed by external alerting and dashboards.
func (s *Server) ListViolations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	records, err := s.feed.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("feed List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query violations"})
		return
	}
	count, err := s.feed.Count(c.Request.Context())
	if err != nil {
		s.logger.Error("feed Count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query violations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      count,
		"violations": records,
	})
}

// ListRules handles GET /v1/rules — the registered invariant registry.
func (s *Server) ListRules(c *gin.Context) {
	type ruleInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
	}

	rules := s.engine.Rules()
	out := make([]ruleInfo, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleInfo{
			Name:        r.Name(),
			Description: r.Description(),
			Severity:    r.Severity().String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

// WatchdogState handles GET /v1/watchdog.
func (s *Server) WatchdogState(c *gin.Context) {
	c.JSON(http.StatusOK, s.kernel.State())
}

// tickRequest is the body of POST /v1/kernel/tick.
type tickRequest struct {
	Tick uint64 `json:"tick_count"`
}

// KernelTick handles POST /v1/kernel/tick — the HTTP form of the kernel
// contract for out-of-process kernel drivers. The response carries
// should_halt; a kernel observing true must stop dispatching tasks.
func (s *Server) KernelTick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.kernel.KernelTick(c.Request.Context(), req.Tick)
	if err != nil {
		s.logger.Error("kernel tick", zap.Uint64("tick", req.Tick), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tick scan failed"})
		return
	}

	switch {
	case len(result.Violations) > 0:
		aegisKernelTicksTotal.WithLabelValues("violations").Inc()
	case req.Tick%s.kernel.State().CheckInterval != 0:
		aegisKernelTicksTotal.WithLabelValues("skipped").Inc()
	default:
		aegisKernelTicksTotal.WithLabelValues("clean").Inc()
	}

	// The tick may have appended VIOLATION events the ingest path never saw.
	if n, err := s.store.Len(c.Request.Context()); err == nil {
		aegisLedgerLength.Set(float64(n))
	}

	c.JSON(http.StatusOK, result)
}
