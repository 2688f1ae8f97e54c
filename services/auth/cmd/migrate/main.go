package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AfshinJalili/audioshop/libs/logging"
	"github.com/AfshinJalili/audioshop/services/auth/internal/config"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [flags] up|down|version\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	logger := logging.NewLogger(*logLevel, "auth-migrate", os.Getenv("AUDIOSHOP_ENV"))

	db, err := sql.Open("pgx", config.LoadDB().DSN())
	if err != nil {
		logger.Error("open db failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case "up":
		err = storage.MigrateDB(ctx, db)
	case "down":
		err = storage.MigrateDown(ctx, db)
	case "version":
		var version int64
		version, err = storage.MigrationVersion(ctx, db)
		if err == nil {
			fmt.Println(version)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration finished", "command", command)
}
