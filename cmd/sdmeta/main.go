package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/viper"

	"github.com/sudosert/sdmeta/metadata"
	"github.com/sudosert/sdmeta/scanner"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s parse <image> | scan <directory>\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, workers, recursive := loadConfig()
	sc := scanner.New(cfg)
	sc.Workers = workers
	sc.Recursive = recursive
	sc.Logger = logger

	switch os.Args[1] {
	case "parse":
		rec := sc.ParseFile(os.Args[2])
		printJSON(rec)
	case "scan":
		var mu sync.Mutex
		var bar *progressbar.ProgressBar
		sc.Progress = func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if bar == nil {
				bar = progressbar.Default(int64(total), "scanning")
			}
			bar.Add(1)
		}
		records, err := sc.Scan(context.Background(), os.Args[2])
		if err != nil {
			logger.Error("scan failed", "error", err)
			os.Exit(1)
		}
		printJSON(records)
	default:
		usage()
	}
}

// loadConfig reads the resolver settings from SDMETA_* environment
// variables.
func loadConfig() (metadata.Config, int, bool) {
	viper.SetDefault("SDMETA_PRIMARY_NODE_TITLE", "Full Prompt")
	viper.SetDefault("SDMETA_WORKERS", 4)
	viper.SetDefault("SDMETA_RECURSIVE", true)
	viper.AutomaticEnv()

	cfg := metadata.Config{
		PrimaryNodeID:    viper.GetString("SDMETA_PRIMARY_NODE_ID"),
		PrimaryNodeTitle: viper.GetString("SDMETA_PRIMARY_NODE_TITLE"),
	}
	for _, title := range strings.Split(viper.GetString("SDMETA_ALT_NODE_TITLES"), ",") {
		if t := strings.TrimSpace(title); t != "" {
			cfg.AltNodeTitles = append(cfg.AltNodeTitles, t)
		}
	}

	return cfg, viper.GetInt("SDMETA_WORKERS"), viper.GetBool("SDMETA_RECURSIVE")
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Error("encode output", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
