package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"perp-grid-bot-go/internal/models"
)

// FileExporter 把状态快照原子地写入 JSON 文件, 供外部面板读取
type FileExporter struct {
	path string
}

func NewFileExporter(path string) *FileExporter {
	return &FileExporter{path: path}
}

func (e *FileExporter) Path() string { return e.path }

// Export 先写临时文件再 rename, 读者永远看不到半个文件
func (e *FileExporter) Export(s models.StatusReport) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close status: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	return nil
}
