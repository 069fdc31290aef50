package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "AgentGov-Core/internal/errors"
)

func TestWebhookHandlerExecutesAgainstAgentEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var invocation Invocation
		if err := json.NewDecoder(r.Body).Decode(&invocation); err != nil {
			t.Errorf("decode invocation: %v", err)
		}
		if invocation.ActionName != "send-email" {
			t.Errorf("invocation.ActionName = %q, want send-email", invocation.ActionName)
		}
		_ = json.NewEncoder(w).Encode(webhookReply{
			Success: true,
			Result:  map[string]any{"sent": true},
		})
	}))
	defer srv.Close()

	handler := NewWebhookHandler(map[string]string{"agent-1": srv.URL}, "", srv.Client())
	result, err := handler.Execute(context.Background(), Invocation{
		ProposalID: "prop-1",
		AgentID:    "agent-1",
		ActionName: "send-email",
		Params:     map[string]any{"to": "ops@example.com"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result["sent"] != true {
		t.Fatalf("result = %v, want sent=true", result)
	}
}

func TestWebhookHandlerReportedFailureBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(webhookReply{Success: false, Error: "smtp unreachable"})
	}))
	defer srv.Close()

	handler := NewWebhookHandler(nil, srv.URL, srv.Client())
	_, err := handler.Execute(context.Background(), Invocation{
		ProposalID: "prop-1",
		AgentID:    "agent-1",
		ActionName: "send-email",
	})
	if err == nil {
		t.Fatal("expected error for reported failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeHandlerFailure {
		t.Fatalf("CodeOf(err) = %s, want %s", xerrors.CodeOf(err), xerrors.CodeHandlerFailure)
	}
}

func TestWebhookHandlerMissingEndpoint(t *testing.T) {
	handler := NewWebhookHandler(nil, "", nil)
	_, err := handler.Execute(context.Background(), Invocation{
		ProposalID: "prop-1",
		AgentID:    "agent-unknown",
		ActionName: "send-email",
	})
	if err == nil {
		t.Fatal("expected error when no endpoint is configured")
	}
}
