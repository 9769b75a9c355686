package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxeltags.ai/internal/persistence/placestore"
	"voxeltags.ai/internal/sim/places/service"
)

type placeStore interface {
	service.Provider
	Players(ctx context.Context) ([]placestore.PlayerInfo, error)
	Close() error
}

func openPlaceStore(dataDir string) (placeStore, string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VT_STORE_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "memory", "mem":
		return placestore.NewMemory(), "memory", nil
	case "sqlite":
		dbPath := strings.TrimSpace(os.Getenv("VT_SQLITE_PATH"))
		if dbPath == "" {
			dbPath = filepath.Join(dataDir, "places", "places.sqlite")
		}
		s, err := placestore.OpenSQLite(dbPath)
		if err != nil {
			return nil, "", err
		}
		return s, "sqlite:" + dbPath, nil
	default:
		return nil, "", fmt.Errorf("unsupported VT_STORE_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
