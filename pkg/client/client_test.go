package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aegis-gov/aegis/pkg/client"
)

// ── Stub daemon ─────────────────────────────────────────────────────────

func stubDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["task_id"] == "" || req["agent_id"] == "" {
			http.Error(w, `{"error":"validation: missing field"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"sequence_number": 2,
			"task_id":         req["task_id"],
			"agent_id":        req["agent_id"],
			"event_type":      req["event_type"],
			"timestamp":       time.Now().UTC(),
			"prev_hash":       strings.Repeat("a", 64),
			"hash":            strings.Repeat("b", 64),
		})
	})

	mux.HandleFunc("/v1/ledger", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"events": 2,
			"root":   strings.Repeat("b", 64),
		})
	})

	mux.HandleFunc("/v1/ledger/verify", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"valid": true, "checked": 2})
	})

	mux.HandleFunc("/v1/kernel/tick", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]uint64
		json.NewDecoder(r.Body).Decode(&req)
		halt := req["tick_count"]%10 == 0
		out := map[string]any{"should_halt": halt, "violations": []any{}}
		if halt {
			out["violations"] = []map[string]any{
				{
					"rule_name":   "BROADCAST_LICENSE_REQUIREMENT",
					"severity":    "CRITICAL",
					"message":     "broadcast without valid license",
					"event_index": 1,
				},
			}
		}
		json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/v1/admin/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["secret"] != "s3cret" {
			http.Error(w, `{"error":"invalid admin secret"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "stub-token"})
	})

	mux.HandleFunc("/v1/admin/audit", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stub-token" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": true, "checked": 2})
	})

	return httptest.NewServer(mux)
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestAppend(t *testing.T) {
	srv := stubDaemon(t)
	defer srv.Close()
	c := client.New(srv.URL)

	event, err := c.Append(context.Background(), &client.AppendRequest{
		TaskID:    "t1",
		AgentID:   "agent-a",
		EventType: "TASK_ASSIGNED",
	})
	if err != nil {
		t.Fatal(err)
	}
	if event.Sequence != 2 || event.EventType != "TASK_ASSIGNED" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestAppend_validationError(t *testing.T) {
	srv := stubDaemon(t)
	defer srv.Close()
	c := client.New(srv.URL)

	_, err := c.Append(context.Background(), &client.AppendRequest{TaskID: ""})
	if err == nil {
		t.Fatal("expected an error for an invalid draft")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error should surface the status: %v", err)
	}
}

func TestOverviewAndVerify(t *testing.T) {
	srv := stubDaemon(t)
	defer srv.Close()
	c := client.New(srv.URL)

	overview, err := c.Overview(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if overview.Events != 2 || len(overview.Root) != 64 {
		t.Errorf("unexpected overview: %+v", overview)
	}

	report, err := c.Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid || report.Checked != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestKernelTick(t *testing.T) {
	srv := stubDaemon(t)
	defer srv.Close()
	c := client.New(srv.URL)

	result, err := c.KernelTick(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if result.ShouldHalt {
		t.Error("tick 7 must not halt")
	}

	result, err = c.KernelTick(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if !result.ShouldHalt || len(result.Violations) != 1 {
		t.Fatalf("unexpected tick result: %+v", result)
	}
	if result.Violations[0].Rule != "BROADCAST_LICENSE_REQUIREMENT" {
		t.Errorf("unexpected violation: %+v", result.Violations[0])
	}
}

func TestLoginThenAudit(t *testing.T) {
	srv := stubDaemon(t)
	defer srv.Close()
	c := client.New(srv.URL)

	// Unauthenticated audit is rejected.
	if _, err := c.Audit(context.Background()); err == nil {
		t.Fatal("audit without login must fail")
	}

	if err := c.Login(context.Background(), "s3cret"); err != nil {
		t.Fatal(err)
	}
	report, err := c.Audit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestLogin_wrongSecret(t *testing.T) {
	srv := stubDaemon(t)
	defer srv.Close()
	c := client.New(srv.URL)

	if err := c.Login(context.Background(), "wrong"); err == nil {
		t.Fatal("expected an error for a bad secret")
	}
}
