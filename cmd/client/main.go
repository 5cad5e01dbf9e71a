package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/roomsync/internal/client/api"
	"github.com/iudanet/roomsync/internal/client/cli"
	"github.com/iudanet/roomsync/internal/client/iocli"
	"github.com/iudanet/roomsync/internal/client/storage/boltdb"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "roomsync-client.db", "Path to local database")
	token := flag.String("token", os.Getenv("ROOMSYNC_TOKEN"), "Access token")
	clientID := flag.Int64("client-id", 0, "Pin client id (default: generated and stored)")
	awareness := flag.String("awareness", "", "Presence state JSON announced to rooms")
	verbose := flag.Bool("verbose", false, "Debug logging")

	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	stdio := iocli.NewStdio()

	// Получаем команду
	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage(stdio)
		os.Exit(1)
	}

	command := args[0]

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// watch работает до SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// token не требует локальной базы
	if command == "token" {
		exitOnError(cli.New(stdio, logger, nil, nil, cli.Options{}).RunToken(args[1:]))
		return
	}

	// Открываем BoltDB storage
	boltStorage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if *clientID != 0 {
		if err := boltStorage.SetClientID(ctx, *clientID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	// Создаем API клиент
	apiClient := api.NewClient(*serverURL)
	c := cli.New(stdio, logger, apiClient, boltStorage, cli.Options{
		AccessToken: *token,
		Awareness:   *awareness,
	})

	// Выполняем команду
	switch command {
	case "push":
		err = c.RunPush(ctx, args[1:])
	case "poll":
		err = c.RunPoll(ctx, args[1:])
	case "watch":
		err = c.RunWatch(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		cli.PrintUsage(stdio)
		os.Exit(1)
	}

	if err != nil {
		// defer не выполнится после os.Exit, закрываем базу явно
		_ = boltStorage.Close()
		exitOnError(err)
	}
}

func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printVersion() {
	fmt.Printf("RoomSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
