package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	s := GetSnapshot()
	initialDeploys := s.Deploys
	initialFailed := s.DeploysFailed
	initialRollbacks := s.Rollbacks
	initialCleanup := s.CleanupFailed
	initialBuildsOK := s.BuildsSuccess
	initialBuildsKO := s.BuildsFailure

	IncDeploy()
	IncDeployFailed()
	IncRollback()
	IncCleanupFailed()
	IncBuildSuccess()
	IncBuildFailure()
	SetLastDeploy(time.Unix(123456789, 0))

	s2 := GetSnapshot()
	if s2.Deploys != initialDeploys+1 {
		t.Fatalf("expected deploys to increment by 1, got %d", s2.Deploys)
	}
	if s2.DeploysFailed != initialFailed+1 {
		t.Fatalf("expected deploys_failed to increment by 1, got %d", s2.DeploysFailed)
	}
	if s2.Rollbacks != initialRollbacks+1 {
		t.Fatalf("expected rollbacks to increment by 1, got %d", s2.Rollbacks)
	}
	if s2.CleanupFailed != initialCleanup+1 {
		t.Fatalf("expected cleanup_failed to increment by 1, got %d", s2.CleanupFailed)
	}
	if s2.BuildsSuccess != initialBuildsOK+1 {
		t.Fatalf("expected builds_success to increment by 1, got %d", s2.BuildsSuccess)
	}
	if s2.BuildsFailure != initialBuildsKO+1 {
		t.Fatalf("expected builds_failure to increment by 1, got %d", s2.BuildsFailure)
	}
	if s2.LastDeploy != 123456789 {
		t.Fatalf("expected last deploy timestamp 123456789, got %d", s2.LastDeploy)
	}
	if s2.LastDeployHuman == "" {
		t.Fatal("expected non-empty LastDeployHuman")
	}
}

func TestObserveDurations(t *testing.T) {
	// Just verify the observers don't panic
	ObserveBuildDuration(12.5)
	ObserveDeployDuration(30.0)
}

func TestJSONHandlerServesSnapshot(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap StatsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
}

func TestPromHandler(t *testing.T) {
	if PromHandler() == nil {
		t.Fatal("PromHandler returned nil")
	}
}
