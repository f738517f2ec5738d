package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegis-gov/aegis/internal/ledger"
)

// appendRequest is the ingest payload for POST /v1/events. Timestamp
// defaults to now when omitted so simple agents need not supply one.
type appendRequest struct {
	TaskID    string           `json:"task_id"`
	AgentID   string           `json:"agent_id"`
	EventType ledger.EventKind `json:"event_type"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Payload   map[string]any   `json:"payload,omitempty"`
}

// AppendEvent handles POST /v1/events — the agent/kernel event ingest path.
func (s *Server) AppendEvent(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	event, err := s.store.Append(c.Request.Context(), &ledger.Draft{
		TaskID:    req.TaskID,
		AgentID:   req.AgentID,
		Kind:      req.EventType,
		Timestamp: ts,
		Payload:   req.Payload,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("ledger append", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append event"})
		return
	}

	aegisLedgerAppendsTotal.Inc()
	aegisLedgerLength.Set(float64(event.Sequence))
	c.JSON(http.StatusCreated, event)
}

// LedgerOverview handles GET /v1/ledger — returns the chain length and
// current root hash.
func (s *Server) LedgerOverview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := s.store.Len(ctx)
	if err != nil {
		s.logger.Error("ledger Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	root, err := s.store.Root(ctx)
	if err != nil {
		s.logger.Error("ledger Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger root"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": count,
		"root":   root,
	})
}

// VerifyChain handles GET /v1/ledger/verify — walks the full chain and
// reports integrity. O(n); intended for audits, not polling.
func (s *Server) VerifyChain(c *gin.Context) {
	report, err := s.store.Verify(c.Request.Context())
	if err != nil {
		s.logger.Error("ledger Verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetEvent handles GET /v1/ledger/events/:seq.
func (s *Server) GetEvent(c *gin.Context) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence number"})
		return
	}

	event, err := s.store.Get(c.Request.Context(), seq)
	if err != nil {
		if errors.Is(err, ledger.ErrStorage) {
			s.logger.Error("ledger Get", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}

// ListEvents handles GET /v1/ledger/events?from=N&limit=M — an in-order
// window over the chain for inspection tooling.
func (s *Server) ListEvents(c *gin.Context) {
	from, _ := strconv.ParseUint(c.DefaultQuery("from", "1"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	events := make([]*ledger.Event, 0, limit)
	err := s.store.Range(c.Request.Context(), from, func(e *ledger.Event) error {
		if len(events) >= limit {
			return errWindowFull
		}
		events = append(events, e)
		return nil
	})
	if err != nil && !errors.Is(err, errWindowFull) {
		s.logger.Error("ledger Range", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// errWindowFull stops a Range walk once the requested window is filled.
var errWindowFull = errors.New("window full")
