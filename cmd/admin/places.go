package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"voxeltags.ai/internal/persistence/backup"
	"voxeltags.ai/internal/persistence/snapshot"
	"voxeltags.ai/internal/sim/places"
)

func exportCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var sf storeFlags
	sf.register(fs)
	player := fs.String("player", "", "player id (required)")
	q := fs.String("query", "", "only export places matching this query (default: all)")
	outPath := fs.String("out", "", "output path; .zst compresses (default: <data>/exports/<player>-<day>.places.json.zst)")
	upload := fs.Bool("backup", false, "also upload the snapshot to the VT_BACKUP_* bucket")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*player) == "" {
		return usageError("missing -player")
	}

	svc, store, err := sf.open()
	if err != nil {
		return err
	}
	defer store.Close()

	ps, day, err := svc.Export(context.Background(), *player, *q)
	if err != nil {
		return err
	}
	out := strings.TrimSpace(*outPath)
	if out == "" {
		out = filepath.Join(sf.dataDir, "exports", fmt.Sprintf("%s-%d.places.json.zst", *player, day))
	}
	if err := snapshot.Write(out, snapshot.New(*player, day, *q, ps)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	fmt.Fprintf(stdout, "export ok: player=%s day=%d places=%d out=%s\n", *player, day, len(ps), out)
	if *upload {
		key, err := uploadBackup(sf.dataDir, out)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		fmt.Fprintf(stdout, "backup ok: key=%s\n", key)
	}
	return nil
}

// uploadBackup stores path under its data-relative key, or under exports/
// when it lives outside the data dir.
func uploadBackup(dataDir, path string) (string, error) {
	cfg, ok, err := backup.ConfigFromEnv()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", usageError("-backup needs VT_BACKUP_ENDPOINT")
	}
	client, err := backup.NewS3Client(cfg)
	if err != nil {
		return "", err
	}
	key, err := backup.RelativeKey(dataDir, path)
	if err != nil {
		key = "exports/" + filepath.Base(path)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return key, client.PutFile(ctx, key, path)
}

func importCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	var sf storeFlags
	sf.register(fs)
	player := fs.String("player", "", "player id (default: the snapshot's player)")
	inPath := fs.String("in", "", "snapshot path (required)")
	actionName := fs.String("action", "skip", "existing place action: skip|update|replace")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*inPath) == "" {
		return usageError("missing -in")
	}
	action, err := places.ParseExistingPlaceAction(*actionName)
	if err != nil {
		return usageError(err.Error())
	}

	snap, err := snapshot.Read(*inPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	target := strings.TrimSpace(*player)
	if target == "" {
		target = snap.Header.PlayerID
	}
	if target == "" {
		return usageError("snapshot has no player id; pass -player")
	}

	svc, store, err := sf.open()
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := svc.Import(context.Background(), target, snapshot.ToPlaces(snap.Places), action)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "import ok: player=%s action=%s added=%d changed=%d removed=%d skipped=%d dropped=%d\n",
		target, action, res.Added, res.Changed, res.Removed, res.Skipped, res.Dropped)
	return nil
}

func clearCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	var sf storeFlags
	sf.register(fs)
	player := fs.String("player", "", "player id (required)")
	yes := fs.Bool("yes", false, "confirm deletion")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if strings.TrimSpace(*player) == "" {
		return usageError("missing -player")
	}
	if !*yes {
		return usageError("refusing to clear without -yes")
	}

	svc, store, err := sf.open()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := svc.Clear(context.Background(), *player)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "clear ok: player=%s removed=%d\n", *player, n)
	return nil
}
