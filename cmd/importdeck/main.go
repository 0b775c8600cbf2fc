package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"wabisabi/internal/config"
	"wabisabi/internal/database"
	"wabisabi/internal/importer"
	"wabisabi/internal/logger"
	"wabisabi/internal/repository"
	"wabisabi/internal/service"
)

func main() {
	deckID := flag.String("id", "", "Deck id (default: the id in the file, or the file name for workbooks)")
	title := flag.String("title", "", "Deck title override")
	language := flag.String("language", "", "Deck language override")
	dryRun := flag.Bool("dry-run", false, "Parse and validate without writing to the database")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: importdeck [options] <deck.yaml|deck.xlsx>...")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}
	if *deckID != "" && flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Error: -id can only be used with a single file")
		os.Exit(1)
	}

	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	opts := importer.Options{DeckID: *deckID, Title: *title, Language: *language}

	var deckService *service.DeckService
	if !*dryRun {
		db, err := database.InitializeWithConfig(cfg)
		if err != nil {
			log.Fatal("Failed to initialize database", "error", err)
		}
		defer db.Close()
		if _, err := db.RunMigrations(cfg.MigrationsPath); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		deckService = service.NewDeckService(repository.NewDeckRepository(db), log)
	}

	ctx := context.Background()
	failed := 0
	for _, path := range flag.Args() {
		if err := importFile(ctx, log, deckService, path, opts); err != nil {
			log.Error("Deck import failed", "file", path, "error", err)
			failed++
		}
	}
	if failed > 0 {
		log.Sync()
		os.Exit(1)
	}
}

func importFile(ctx context.Context, log *logger.Logger, deckService *service.DeckService, path string, opts importer.Options) error {
	deck, err := importer.LoadFile(path, opts)
	if err != nil {
		return err
	}
	if deckService != nil {
		return deckService.Import(ctx, deck)
	}

	if err := service.NormalizeDeck(deck); err != nil {
		return err
	}
	log.Info("Deck is valid", "file", path, "deck", deck.ID, "sections", len(deck.Sections), "items", deck.TotalItems())
	return nil
}
