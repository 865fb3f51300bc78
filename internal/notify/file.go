package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackup saves events to local files for audit. It doubles as a
// HeadStore for deployments without a catalog: the chain head of an output
// is the newest saved event for it.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

// Path returns the backup file for evt: {start}_{end}_{run_id}.json
func (f *FileBackup) Path(evt *Event) string {
	filename := fmt.Sprintf("%s_%s_%s.json", evt.Run.StartDate, evt.Run.EndDate, evt.Run.RunID)
	return filepath.Join(f.dir, filename)
}

// Save writes an event to a local JSON file.
func (f *FileBackup) Save(evt *Event) error {
	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := os.WriteFile(f.Path(evt), data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// LastEventHash scans the saved events for output and returns the hash of
// the most recent one.
func (f *FileBackup) LastEventHash(ctx context.Context, output string) (string, error) {
	files, err := filepath.Glob(filepath.Join(f.dir, "*.json"))
	if err != nil {
		return "", err
	}

	var latest *Event
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read backup %s: %w", file, err)
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			// Not one of ours.
			continue
		}
		if evt.Run.Output != output || evt.Chain.EventHash == "" {
			continue
		}
		if latest == nil || evt.Timestamp.After(latest.Timestamp) {
			latest = &evt
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.Chain.EventHash, nil
}

// SaveEventHash is a no-op: Save already persisted the event carrying it.
func (f *FileBackup) SaveEventHash(context.Context, string, string) error {
	return nil
}
