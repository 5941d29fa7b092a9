// Package state persists a small JSON journal so an interrupted replacement
// can be recovered after a crash: which container was renamed aside, and what
// the last completed deploy looked like.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RenameRecord records a container renamed aside during a replacement.
type RenameRecord struct {
	ContainerID string    `json:"container_id"`
	TmpName     string    `json:"tmp_name"`
	OrigName    string    `json:"orig_name"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeployRecord describes the last completed deploy.
type DeployRecord struct {
	ContainerID string    `json:"container_id"`
	ImageTag    string    `json:"image_tag"`
	ImageID     string    `json:"image_id"`
	PrevImageID string    `json:"prev_image_id,omitempty"`
	BaseDigest  string    `json:"base_digest,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// journal is the on-disk shape of the state file. Renames are keyed by the
// temporary container name.
type journal struct {
	Renames    map[string]RenameRecord `json:"renames"`
	LastDeploy *DeployRecord           `json:"last_deploy,omitempty"`
}

var mu sync.Mutex

const stateFileName = "slipway_state.json"

func stateFilePath() string {
	if dir := os.Getenv("SLIPWAY_STATE_DIR"); dir != "" {
		return filepath.Join(dir, stateFileName)
	}
	// Prefer a persistent location; fall back to the working directory when
	// /var/lib is not writable (e.g. unprivileged runs).
	defaultDir := "/var/lib/slipway"
	if err := os.MkdirAll(defaultDir, 0o755); err == nil {
		return filepath.Join(defaultDir, stateFileName)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, stateFileName)
	}
	return filepath.Join(os.TempDir(), stateFileName)
}

// loadUnlocked reads the journal. Caller must hold mu.
func loadUnlocked() (*journal, error) {
	data, err := os.ReadFile(stateFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &journal{Renames: make(map[string]RenameRecord)}, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	j := &journal{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if j.Renames == nil {
		j.Renames = make(map[string]RenameRecord)
	}
	return j, nil
}

// saveUnlocked writes the journal. Caller must hold mu.
func saveUnlocked(j *journal) error {
	p := stateFilePath()
	b, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	if err := os.WriteFile(p, b, 0o640); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// AddRenameRecord persists a rename record keyed by the temporary name.
func AddRenameRecord(r RenameRecord) error {
	mu.Lock()
	defer mu.Unlock()
	j, err := loadUnlocked()
	if err != nil {
		return err
	}
	j.Renames[r.TmpName] = r
	return saveUnlocked(j)
}

// RemoveRenameRecordByContainerID removes any rename records matching the
// container ID.
func RemoveRenameRecordByContainerID(containerID string) error {
	mu.Lock()
	defer mu.Unlock()
	j, err := loadUnlocked()
	if err != nil {
		return err
	}
	for k, v := range j.Renames {
		if v.ContainerID == containerID {
			delete(j.Renames, k)
		}
	}
	return saveUnlocked(j)
}

// GetRenameRecordByTmpName looks up a rename record by temporary name.
func GetRenameRecordByTmpName(tmp string) (RenameRecord, bool, error) {
	mu.Lock()
	defer mu.Unlock()
	j, err := loadUnlocked()
	if err != nil {
		return RenameRecord{}, false, err
	}
	r, ok := j.Renames[tmp]
	return r, ok, nil
}

// GetAllRenameRecords returns all persisted rename records.
func GetAllRenameRecords() (map[string]RenameRecord, error) {
	mu.Lock()
	defer mu.Unlock()
	j, err := loadUnlocked()
	if err != nil {
		return nil, err
	}
	return j.Renames, nil
}

// SetLastDeploy persists the record of the last completed deploy.
func SetLastDeploy(r DeployRecord) error {
	mu.Lock()
	defer mu.Unlock()
	j, err := loadUnlocked()
	if err != nil {
		return err
	}
	j.LastDeploy = &r
	return saveUnlocked(j)
}

// GetLastDeploy returns the last completed deploy record, if any.
func GetLastDeploy() (DeployRecord, bool, error) {
	mu.Lock()
	defer mu.Unlock()
	j, err := loadUnlocked()
	if err != nil {
		return DeployRecord{}, false, err
	}
	if j.LastDeploy == nil {
		return DeployRecord{}, false, nil
	}
	return *j.LastDeploy, true, nil
}
