package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"voxeltags.ai/internal/persistence/backup"
)

// buildMirror returns nil when VT_BACKUP_ENDPOINT is unset.
func buildMirror(dataDir string, logger *log.Logger) (*backup.Mirror, error) {
	cfg, ok, err := backup.ConfigFromEnv()
	if err != nil || !ok {
		return nil, err
	}
	client, err := backup.NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return backup.NewMirror(client, dataDir, backup.MirrorOptions{
		Workers: envInt("VT_BACKUP_UPLOAD_WORKERS", 2),
	}, logger), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeMirrorMetrics(rw http.ResponseWriter, m *backup.Mirror) {
	if m == nil {
		return
	}
	s := m.Stats()
	metric := func(name, typ, help string, v any) {
		fmt.Fprintf(rw, "# HELP voxeltags_backup_%s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE voxeltags_backup_%s %s\n", name, typ)
		fmt.Fprintf(rw, "voxeltags_backup_%s %v\n", name, v)
	}
	metric("queue_depth", "gauge", "Current backup queue depth.", s.QueueDepth)
	metric("queue_capacity", "gauge", "Backup queue capacity.", s.QueueCapacity)
	metric("enqueued_total", "counter", "Files offered to the backup mirror.", s.Enqueued)
	metric("dropped_total", "counter", "Files dropped because the queue stayed full.", s.Dropped)
	metric("upload_success_total", "counter", "Successful backup uploads.", s.Uploaded)
	metric("upload_fail_total", "counter", "Backup uploads that failed after retries.", s.Failed)
	metric("last_success_unix", "gauge", "Unix time of the last successful upload.", s.LastSuccess)
}
