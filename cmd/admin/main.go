package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"voxeltags.ai/internal/persistence/placestore"
	"voxeltags.ai/internal/sim/calendar"
	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/service"
	"voxeltags.ai/internal/sim/tuning"
)

func main() {
	var err error
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "export":
			err = exportCmd(os.Args[2:], os.Stdout)
		case "import":
			err = importCmd(os.Args[2:], os.Stdout)
		case "clear":
			err = clearCmd(os.Args[2:], os.Stdout)
		case "audit":
			err = auditCmd(os.Args[2:], os.Stdout)
		case "players":
			err = playersCmd(os.Args[2:], os.Stdout)
		case "list":
			err = listCmd(os.Args[2:], os.Stdout)
		default:
			err = listCmd(os.Args[1:], os.Stdout)
		}
	} else {
		err = listCmd(nil, os.Stdout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

type storeFlags struct {
	dataDir string
	dbPath  string
	tuning  string
}

func (sf *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&sf.dataDir, "data", "./data", "runtime data directory")
	fs.StringVar(&sf.dbPath, "db", "", "sqlite db path (default: <data>/places/places.sqlite)")
	fs.StringVar(&sf.tuning, "tuning", "", "path to tuning.yaml (optional)")
}

func (sf storeFlags) path() string {
	if p := strings.TrimSpace(sf.dbPath); p != "" {
		return p
	}
	return filepath.Join(sf.dataDir, "places", "places.sqlite")
}

// open builds a service over the local sqlite store. Admin edits are not
// written to the audit log.
func (sf storeFlags) open() (*service.Service, *placestore.SQLiteStore, error) {
	tune := tuning.Defaults()
	if p := strings.TrimSpace(sf.tuning); p != "" {
		t, err := tuning.Load(p)
		if err != nil {
			return nil, nil, err
		}
		tune = t
	}
	epoch, err := tune.Calendar.EpochTime()
	if err != nil {
		return nil, nil, err
	}
	cal := calendar.New(calendar.Config{
		Epoch:       epoch,
		DayLength:   tune.Calendar.DayLength(),
		MonthDays:   tune.Calendar.MonthDays,
		QuarterDays: tune.Calendar.QuarterDays,
		YearDays:    tune.Calendar.YearDays,
	})
	store, err := placestore.OpenSQLite(sf.path())
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(store, cal, service.Config{
		Grid:          places.Grid{Resolution: tune.Grid.Resolution, Offset: tune.Grid.Offset},
		DefaultRadius: tune.Query.DefaultRadius,
		MaxRadius:     tune.Query.MaxRadius,
	}, nil, log.New(os.Stderr, "[admin] ", log.LstdFlags))
	return svc, store, nil
}

func listCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var sf storeFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	_, store, err := sf.open()
	if err != nil {
		return err
	}
	defer store.Close()
	ps, err := store.Players(context.Background())
	if err != nil {
		return err
	}
	for _, p := range ps {
		fmt.Fprintf(stdout, "%s\tplaces=%d\tupdated=%s\n", p.PlayerID, p.Places, p.UpdatedAt)
	}
	return nil
}
