package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "voxeltags.ai/internal/persistence/log"
)

func auditCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	player := fs.String("player", "", "player id filter (optional)")
	op := fs.String("op", "", "op filter: edit|import|clear (optional)")
	limit := fs.Int("limit", 50, "show at most the last N matching entries (0 = all)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	entries, err := readAudit(filepath.Join(*dataDir, "audit"), strings.TrimSpace(*player), strings.TrimSpace(*op))
	if err != nil {
		return fmt.Errorf("read audit: %w", err)
	}
	if *limit > 0 && len(entries) > *limit {
		entries = entries[len(entries)-*limit:]
	}
	enc := json.NewEncoder(stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// readAudit reads every hourly audit file in name order, which is also time
// order.
func readAudit(dir, player, op string) ([]persistlog.EditAuditEntry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []persistlog.EditAuditEntry
	for _, name := range names {
		got, err := readAuditFile(filepath.Join(dir, name), player, op)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

func readAuditFile(path, player, op string) ([]persistlog.EditAuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []persistlog.EditAuditEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e persistlog.EditAuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if player != "" && e.PlayerID != player {
			continue
		}
		if op != "" && e.Op != op {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
