package audit

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dmitrijs2005/passvault/internal/filex"
)

const fileTimeLayout = "2006-01-02 15:04:05"

// FileRecorder appends records to a text file.
type FileRecorder struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := filex.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileRecorder{f: f}, nil
}

func formatRecord(r Record) string {
	status := "Failed"
	if r.Success {
		status = "Success"
	}
	user := r.User
	if user == "" {
		user = "None"
	}
	return fmt.Sprintf("<LOG>\n   [%s] User: %s | Command: %s | Status: %s | Message: %s\n<\\LOG>\n",
		r.Time.Local().Format(fileTimeLayout), user, r.Command, status, r.Message)
}

func (fr *FileRecorder) Record(ctx context.Context, r Record) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, err := fr.f.WriteString(formatRecord(r)); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

func (fr *FileRecorder) Close() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.f.Close()
}
