package state

import (
	"testing"
	"time"
)

func TestRenameRecordRoundTrip(t *testing.T) {
	t.Setenv("SLIPWAY_STATE_DIR", t.TempDir())

	rec := RenameRecord{ContainerID: "c1", TmpName: "bot-old-42", OrigName: "bot", Timestamp: time.Now()}
	if err := AddRenameRecord(rec); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, ok, err := GetRenameRecordByTmpName("bot-old-42")
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if got.OrigName != "bot" || got.ContainerID != "c1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := RemoveRenameRecordByContainerID("c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := GetRenameRecordByTmpName("bot-old-42"); ok {
		t.Fatal("record should be gone after removal")
	}
}

func TestGetAllRenameRecordsEmpty(t *testing.T) {
	t.Setenv("SLIPWAY_STATE_DIR", t.TempDir())
	m, err := GetAllRenameRecords()
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
}

func TestLastDeployRoundTrip(t *testing.T) {
	t.Setenv("SLIPWAY_STATE_DIR", t.TempDir())

	if _, ok, err := GetLastDeploy(); err != nil || ok {
		t.Fatalf("expected no record initially: ok=%v err=%v", ok, err)
	}

	rec := DeployRecord{ContainerID: "c9", ImageTag: "bot:latest", ImageID: "sha256:abc", PrevImageID: "sha256:old", Timestamp: time.Now()}
	if err := SetLastDeploy(rec); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := GetLastDeploy()
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.ImageID != "sha256:abc" || got.PrevImageID != "sha256:old" {
		t.Fatalf("unexpected record: %+v", got)
	}
}
