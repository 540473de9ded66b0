package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"indexmirror/pkg/config"
	"indexmirror/pkg/crawl"
	"indexmirror/pkg/fetch"
	"indexmirror/pkg/scan"
	"indexmirror/pkg/storage"
	"indexmirror/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:])
	case "scan":
		runScan(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("indexmirror %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `indexmirror - open directory listing mirror

Usage:
  indexmirror <command> [options]

Commands:
  crawl     Recursively mirror an index server onto local storage
  scan      Search downloaded files for literal substrings
  validate  Validate configuration file
  version   Show version info

Run 'indexmirror <command> -h' for command-specific help.`)
}

// stringSliceFlag collects repeatable flag values; comma-separated values
// within one occurrence are split too.
type stringSliceFlag []string

func (f *stringSliceFlag) String() string { return strings.Join(*f, ",") }

func (f *stringSliceFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			*f = append(*f, part)
		}
	}
	return nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// loadConfig loads and parses the optional config file.
func loadConfig(path string) (*config.AppConfig, error) {
	var cfg config.AppConfig
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// runCrawl handles the crawl subcommand.
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	rootURL := fs.String("url", "", "Root index URL to crawl (required)")
	downloadPath := fs.String("download-path", "", "Local root directory for mirrored output (required)")
	var suffixes stringSliceFlag
	fs.Var(&suffixes, "suffixes-to-ignore", "File suffixes excluded from download (repeatable, default .mp4,.mov)")
	forcePHP := fs.Bool("force-download-php", false, "Include .php links as downloadable files")
	var searchStrings stringSliceFlag
	fs.Var(&searchStrings, "search-strings", "Scan the downloaded tree for these substrings after the crawl (repeatable)")
	configFile := fs.String("config", "", "Path to optional YAML config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	workers := fs.Int("workers", 0, "Concurrent download cap per directory level (default 10)")
	timeout := fs.Duration("timeout", 0, "Per-request HTTP timeout (default 30s)")
	respectRobots := fs.Bool("respect-robots", false, "Honor robots.txt rules")
	stateDir := fs.String("state-dir", "", "Directory for a persisted download manifest (default: in-memory)")
	writeReport := fs.Bool("report", false, "Write a manifest report file under the download path")
	writeTree := fs.Bool("tree", false, "Write a directory tree report after the crawl")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: indexmirror crawl [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  indexmirror crawl -url http://files.example.com/pub/ -download-path ./mirror\n")
		fmt.Fprintf(os.Stderr, "  indexmirror crawl -url http://files.example.com/pub/ -download-path ./mirror -search-strings password,secret\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rootURL == "" || *downloadPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -url and -download-path are required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)

	// --- Load config and apply flag overrides ---
	appCfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if len(suffixes) > 0 {
		appCfg.SuffixesToIgnore = suffixes
	}
	if *forcePHP {
		appCfg.ForceDownloadPHP = true
	}
	if *respectRobots {
		appCfg.RespectRobots = true
	}
	if *workers > 0 {
		appCfg.DownloadWorkers = *workers
	}
	if *timeout > 0 {
		appCfg.HTTPClientSettings.Timeout = *timeout
	}
	if *stateDir != "" {
		appCfg.StateDir = *stateDir
	}
	if *writeTree {
		appCfg.WriteTree = true
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	parsedRoot, err := url.Parse(*rootURL)
	if err != nil || parsedRoot.Host == "" {
		log.Fatalf("Invalid root URL %q", *rootURL)
	}

	crawlID := uuid.NewString()[:8]
	logEntry := log.WithFields(logrus.Fields{"component": "crawl", "crawl_id": crawlID})
	logEntry.Infof("Mirroring %s into %s (workers: %d, suffixes ignored: %v)",
		*rootURL, *downloadPath, appCfg.DownloadWorkers, appCfg.SuffixesToIgnore)

	// --- Global context and signal handling ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal %v, forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded, forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	// --- Initialize components ---
	manifest, err := storage.NewBadgerManifest(appCfg.StateDir, parsedRoot.Hostname(), logEntry)
	if err != nil {
		log.Fatalf("Failed to initialize download manifest: %v", err)
	}
	defer manifest.Close()

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, logEntry)
	fetcher := fetch.NewFetcher(httpClient, appCfg.UserAgent,
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay, logEntry)
	robots := fetch.NewRobotsHandler(fetcher, appCfg.RespectRobots, logEntry)
	downloader := crawl.NewDownloader(httpClient, appCfg.UserAgent, appCfg.DownloadChunkSize, logEntry)
	target := crawl.NewTarget(parsedRoot, appCfg.SuffixesToIgnore, appCfg.ForceDownloadPHP)
	ledger := crawl.NewLedger()

	crawler := crawl.NewCrawler(target, ledger, fetcher, downloader, robots, manifest,
		appCfg.UserAgent, appCfg.DownloadWorkers, logEntry)

	// --- Run crawl ---
	runErr := crawler.Run(ctx, *rootURL, *downloadPath)

	succeeded, failed, skipped, countErr := manifest.Counts()
	if countErr != nil {
		logEntry.Errorf("Reading manifest counts failed: %v", countErr)
	} else {
		logEntry.Infof("Downloads: %d succeeded, %d failed, %d skipped", succeeded, failed, skipped)
	}

	// --- Post-crawl reports ---
	if runErr == nil {
		if *writeReport {
			reportPath := filepath.Join(*downloadPath, appCfg.ReportFilename)
			if err := manifest.WriteReport(reportPath, crawlID); err != nil {
				logEntry.Errorf("Writing manifest report failed: %v", err)
			}
		}
		if appCfg.WriteTree {
			hostDir := filepath.Join(*downloadPath, parsedRoot.Hostname())
			treePath := filepath.Join(*downloadPath, utils.SanitizeFilename(parsedRoot.Hostname())+"_structure.txt")
			if err := utils.WriteMirrorTree(hostDir, treePath, logEntry); err != nil {
				logEntry.Errorf("Writing tree report failed: %v", err)
			} else {
				logEntry.Infof("Saved directory structure to %s", treePath)
			}
		}
	}

	// --- Optional post-crawl scan ---
	if runErr == nil && len(searchStrings) > 0 {
		scanLog := log.WithFields(logrus.Fields{"component": "scan", "crawl_id": crawlID})
		scanner := scan.NewScanner(scanLog)
		// The report files above live inside the scanned tree and would
		// match their own manifest lines.
		scanner.ExcludeNames = []string{
			appCfg.ReportFilename,
			utils.SanitizeFilename(parsedRoot.Hostname()) + "_structure.txt",
		}
		if _, err := scanner.Scan(*downloadPath, searchStrings); err != nil {
			scanLog.Errorf("Scan failed: %v", err)
		}
	}

	// --- Exit ---
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Crawl cancelled gracefully.")
			os.Exit(0)
		}
		log.Errorf("Crawl finished with error: %v", runErr)
		os.Exit(1)
	}
	log.Info("Crawl completed successfully.")
}

// runScan handles the standalone scan subcommand.
func runScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	rootPath := fs.String("path", "", "Root of the downloaded tree to scan (required)")
	var searchStrings stringSliceFlag
	fs.Var(&searchStrings, "search-strings", "Substrings to search for (repeatable, required)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: indexmirror scan [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rootPath == "" || len(searchStrings) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -path and -search-strings are required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	scanner := scan.NewScanner(log.WithField("component", "scan"))
	matches, err := scanner.Scan(*rootPath, searchStrings)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	log.Infof("Found %d matching line(s)", len(matches))
}

// runValidate handles the validate subcommand.
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: indexmirror validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to the provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Configuration valid.")
	return 0
}
