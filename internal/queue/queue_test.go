package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

func TestListForRoutesByPriority(t *testing.T) {
	if got := listFor(domain.PriorityProduction); got != keyDeploys {
		t.Fatalf("production jobs must land on %s, got %s", keyDeploys, got)
	}
	if got := listFor(domain.PriorityPreview); got != keyPreviews {
		t.Fatalf("preview jobs must land on %s, got %s", keyPreviews, got)
	}
	// Unknown classes are treated as previews so they never jump the line.
	if got := listFor(0); got != keyPreviews {
		t.Fatalf("unclassified jobs must land on %s, got %s", keyPreviews, got)
	}
}

func TestBuildJobPayloadRoundTrip(t *testing.T) {
	job := domain.BuildJob{
		ID:           "job-1",
		DeploymentID: "dep-1",
		ProjectID:    "proj-1",
		RepoURL:      "https://github.com/acme/site",
		Branch:       "main",
		CommitSHA:    domain.CommitLatest,
		Framework:    domain.FrameworkNext,
		IsPreview:    false,
		Priority:     domain.PriorityProduction,
		EnqueuedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(&job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got domain.BuildJob
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != job {
		t.Fatalf("payload round trip changed the job: %+v != %+v", got, job)
	}
}

func TestAccessTokenOmittedWhenEmpty(t *testing.T) {
	payload, err := json.Marshal(&domain.BuildJob{ID: "job-2"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["access_token"]; ok {
		t.Fatal("empty access token must not appear in the payload")
	}
}
