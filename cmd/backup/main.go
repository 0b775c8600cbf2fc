package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"wabisabi/internal/config"
	"wabisabi/internal/database"
	"wabisabi/internal/logger"
	"wabisabi/internal/service"
)

func main() {
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)

	exportOutput := exportCmd.String("output", "", "Output file path (default: backup_YYYYMMDD_HHMMSS.json)")

	importInput := importCmd.String("input", "", "Input file path (required)")
	importClear := importCmd.Bool("clear", false, "Clear existing data before import (WARNING: destructive)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}
	defer db.Close()

	// Keep the schema current so old backups restore into the latest tables
	if _, err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	backupService := service.NewBackupService(db, log)
	ctx := context.Background()

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		handleExport(ctx, log, backupService, *exportOutput)

	case "import":
		importCmd.Parse(os.Args[2:])
		if *importInput == "" {
			fmt.Println("Error: -input flag is required")
			importCmd.PrintDefaults()
			os.Exit(1)
		}
		handleImport(ctx, log, backupService, *importInput, *importClear)

	default:
		printUsage()
		os.Exit(1)
	}
}

func handleExport(ctx context.Context, log *logger.Logger, backupService *service.BackupService, outputPath string) {
	if outputPath == "" {
		outputPath = fmt.Sprintf("backup_%s.json", time.Now().Format("20060102_150405"))
	}

	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal("Failed to create output directory", "dir", dir, "error", err)
		}
	}

	log.Info("Exporting database", "output", outputPath)
	summary, err := backupService.ExportToFile(ctx, outputPath)
	if err != nil {
		log.Fatal("Export failed", "error", err)
	}

	size := int64(0)
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	log.Info("Export complete",
		"decks", summary.Decks,
		"learners", summary.Learners,
		"progress", summary.Progress,
		"size_mb", fmt.Sprintf("%.2f", float64(size)/1024/1024),
	)
}

func handleImport(ctx context.Context, log *logger.Logger, backupService *service.BackupService, inputPath string, clearData bool) {
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", "input", inputPath)
	}

	if clearData {
		fmt.Print("WARNING: This will delete all decks, learners and progress. Type 'yes' to confirm: ")
		var confirmation string
		fmt.Scanln(&confirmation)
		if confirmation != "yes" {
			log.Info("Import cancelled")
			return
		}

		if err := backupService.Clear(ctx); err != nil {
			log.Fatal("Failed to clear database", "error", err)
		}
	}

	log.Info("Importing database", "input", inputPath)
	summary, err := backupService.ImportFromFile(ctx, inputPath)
	if err != nil {
		log.Fatal("Import failed", "error", err)
	}
	log.Info("Import complete", "decks", summary.Decks, "learners", summary.Learners, "progress", summary.Progress)
}

func printUsage() {
	fmt.Println("WabiSabi Database Backup Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  backup export [options]    Export decks, learners and progress to a JSON file")
	fmt.Println("  backup import [options]    Import a JSON backup")
	fmt.Println()
	fmt.Println("Export Options:")
	fmt.Println("  -output <file>    Output file path (default: backup_YYYYMMDD_HHMMSS.json)")
	fmt.Println()
	fmt.Println("Import Options:")
	fmt.Println("  -input <file>     Input file path (required)")
	fmt.Println("  -clear            Clear existing data before import (WARNING: destructive)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DB_TYPE          Database type: sqlite, postgres, or mysql (default: sqlite)")
	fmt.Println("  DB_PATH          SQLite database path (default: ./wabisabi.db)")
	fmt.Println("  DATABASE_URL     PostgreSQL or MySQL connection URL")
}
