package graph

import (
	"log/slog"
	"os"
	"path/filepath"
)

// reportWriter persists report markdown as the run progresses, one file per
// report key under <dir>/<symbol>/<date>/reports/. Files are overwritten on
// every update so a watcher always sees the latest accumulated content.
// Writes are best-effort: a full disk never fails an analysis.
type reportWriter struct {
	dir    string
	logger *slog.Logger
}

func newReportWriter(baseDir, symbol, tradeDate string, logger *slog.Logger) *reportWriter {
	if baseDir == "" || symbol == "" {
		return &reportWriter{logger: logger}
	}
	return &reportWriter{
		dir:    filepath.Join(baseDir, symbol, tradeDate, "reports"),
		logger: logger,
	}
}

// write stores one report body as <key>.md. The file stem doubles as the
// report key during filesystem hydration, so it must match exactly.
func (w *reportWriter) write(key, content string) {
	if w.dir == "" || key == "" || content == "" {
		return
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Warn("Failed to create reports dir", "dir", w.dir, "error", err)
		return
	}
	path := filepath.Join(w.dir, key+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		w.logger.Warn("Failed to write report file", "path", path, "error", err)
	}
}
