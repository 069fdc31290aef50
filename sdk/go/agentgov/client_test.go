package agentgov

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitProposal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/proposals" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var submission ProposalSubmission
		if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if submission.ActionName != "send-email" {
			t.Fatalf("unexpected action: %s", submission.ActionName)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Proposal{
			ID:         "prop-1",
			AgentID:    submission.AgentID,
			ActionName: submission.ActionName,
			Status:     "approved",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	proposal, err := client.SubmitProposal(context.Background(), ProposalSubmission{
		AgentID:    "agent-1",
		ActionName: "send-email",
		Reasoning:  Reasoning{Trigger: "signup", Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	if proposal.ID != "prop-1" || proposal.Status != "approved" {
		t.Fatalf("unexpected proposal: %+v", proposal)
	}
}

func TestReviewConflictSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "PROPOSAL_ALREADY_REVIEWED",
			"message": "proposal already reviewed",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Review(context.Background(), "prop-1", ReviewDecision{Approve: true, ReviewedBy: "reviewer-1"})
	var apiErr *APIError
	if !stdErrors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "PROPOSAL_ALREADY_REVIEWED" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestListPendingBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "pending" {
			t.Fatalf("status query = %q, want pending", got)
		}
		if got := r.URL.Query().Get("agent"); got != "agent-1" {
			t.Fatalf("agent query = %q, want agent-1", got)
		}
		_ = json.NewEncoder(w).Encode([]Proposal{{ID: "prop-1", Status: "pending"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	proposals, err := client.ListPending(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(proposals) != 1 || proposals[0].ID != "prop-1" {
		t.Fatalf("unexpected proposals: %+v", proposals)
	}
}

func TestWaitUntilReviewedPolls(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "pending"
		if calls >= 3 {
			status = "approved"
		}
		_ = json.NewEncoder(w).Encode(Proposal{ID: "prop-1", Status: status})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	proposal, err := client.WaitUntilReviewed(ctx, "prop-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait until reviewed: %v", err)
	}
	if proposal.Status != "approved" {
		t.Fatalf("proposal.Status = %q, want approved", proposal.Status)
	}
	if calls < 3 {
		t.Fatalf("calls = %d, want at least 3", calls)
	}
}

func TestRecordFeedbackNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions/exec-1/feedback" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.RecordFeedback(context.Background(), "exec-1", Feedback{Outcome: "correct"}); err != nil {
		t.Fatalf("record feedback: %v", err)
	}
}
