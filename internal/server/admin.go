package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegis-gov/aegis/internal/feed"
	"github.com/aegis-gov/aegis/internal/judge"
)

// tokenRequest is the body of POST /v1/admin/token.
type tokenRequest struct {
	Secret string `json:"secret"`
}

// IssueAdminToken handles POST /v1/admin/token — exchanges the static admin
// secret for a short-lived bearer token.
func (s *Server) IssueAdminToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if s.cfg.AdminSecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.cfg.AdminSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}

	token, err := s.tokens.Issue()
	if err != nil {
		s.logger.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RunAudit handles POST /v1/admin/audit — an explicit full-chain integrity
// audit. A broken chain is reported as a CRITICAL finding on the violation
// feed; it is never repaired.
func (s *Server) RunAudit(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := s.store.Verify(ctx)
	if err != nil {
		s.logger.Error("audit Verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}

	if !report.Valid {
		s.logger.Error("chain integrity audit FAILED",
			zap.Uint64("first_broken", report.FirstBroken),
			zap.Uint64("checked", report.Checked),
		)
		rec := &feed.Record{
			Sequence:   report.FirstBroken,
			TaskID:     "governance",
			AgentID:    "aegis-audit",
			Severity:   judge.SeverityCritical.String(),
			Invariant:  "CHAIN_INTEGRITY",
			Message:    "hash chain verification failed",
			EventIndex: int(report.FirstBroken) - 1,
			DetectedAt: time.Now().UTC(),
		}
		if err := s.feed.Add(ctx, rec); err != nil {
			s.logger.Error("record integrity finding", zap.Error(err))
		}
		aegisViolationsTotal.WithLabelValues(rec.Severity, rec.Invariant).Inc()
	}

	c.JSON(http.StatusOK, report)
}
