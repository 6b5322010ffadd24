package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ntfind/ntfind/config"
	"github.com/ntfind/ntfind/drives"
	"github.com/ntfind/ntfind/export"
	"github.com/ntfind/ntfind/filters"
	"github.com/ntfind/ntfind/internal/util"
	"github.com/ntfind/ntfind/persist"
	"github.com/ntfind/ntfind/search"
)

func main() {
	// Parse command line arguments
	var (
		configPath string
		verbose    int
		volumesArg string
		watchArg   string
		dataDir    string
		scanMode   string
		noPersist  bool
		query      string
		exportPath string
		limit      int
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	flag.StringVar(&configPath, "c", "", "--config (shorthand)")
	flag.IntVar(&verbose, "verbose", 3, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	flag.IntVar(&verbose, "v", 3, "--verbose (shorthand)")
	flag.StringVar(&volumesArg, "volumes", "", "Comma-separated volumes to index, e.g. C:,D:. Empty discovers all NTFS volumes.")
	flag.StringVar(&watchArg, "watch", "", "Comma-separated folders to watch through directory events")
	flag.StringVar(&watchArg, "w", "", "--watch (shorthand)")
	flag.StringVar(&dataDir, "data", "", "Directory for saved indexes and bookmarks")
	flag.StringVar(&dataDir, "d", "", "--data (shorthand)")
	flag.StringVar(&scanMode, "mode", "", "Scan mode: full (sizes and timestamps) or fast (names only)")
	flag.BoolVar(&noPersist, "no-persist", false, "Do not save indexes; every start rescans")
	flag.StringVar(&query, "search", "", "Run one query, print the results and exit")
	flag.StringVar(&query, "s", "", "--search (shorthand)")
	flag.StringVar(&exportPath, "export", "", "With --search, also write the results to this .csv or .json file")
	flag.StringVar(&exportPath, "o", "", "--export (shorthand)")
	flag.IntVar(&limit, "limit", 0, "Max results per query")
	flag.IntVar(&limit, "n", 0, "--limit (shorthand)")
	flag.Parse()

	override := &config.ConfigOverride{}
	if configPath != "" {
		fileOverride, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot load config %s: %v\n", configPath, err)
			os.Exit(1)
		}
		override = fileOverride
	}
	// Flags the user actually passed beat the config file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["verbose"] || set["v"] || override.Verbose == nil {
		override.Verbose = &verbose
	}
	if set["volumes"] {
		override.Volumes = splitList(volumesArg)
	}
	if set["watch"] || set["w"] {
		override.WatchFolders = splitList(watchArg)
	}
	if set["data"] || set["d"] {
		override.DataDir = &dataDir
	}
	if set["mode"] {
		override.ScanMode = &scanMode
	}
	if noPersist {
		f := false
		override.Persist = &f
	}
	if limit > 0 {
		override.SearchLimit = &limit
	}
	cfg := config.NewConfig(override)

	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")

	if cfg.ScanMode != config.ScanModeFull && cfg.ScanMode != config.ScanModeFast {
		logger.Fatal().Str("mode", cfg.ScanMode).Msg("Scan mode must be full or fast")
	}

	var store *persist.Store
	if cfg.Persist {
		var err error
		store, err = persist.NewStore(cfg.DataDir)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Cannot open data directory")
		}
	}

	mgr := drives.NewManager(cfg, store)

	volumes := cfg.Volumes
	if len(volumes) == 0 {
		infos, err := mgr.Discover()
		if err != nil {
			logger.Fatal().Err(err).Msg("Volume discovery failed")
		}
		for _, info := range infos {
			volumes = append(volumes, info.Mount)
		}
		logger.Info().Strs("volumes", volumes).Msg("Discovered NTFS volumes")
	}
	if len(volumes) == 0 && len(cfg.WatchFolders) == 0 {
		logger.Fatal().Msg("Nothing to index: no NTFS volumes found and no watch folders configured")
	}

	added := 0
	for _, vol := range volumes {
		if err := mgr.Add(context.Background(), vol); err != nil {
			logger.Error().Err(err).Str("volume", vol).Msg("Volume not indexed")
			continue
		}
		added++
	}
	watched := 0
	for _, folder := range cfg.WatchFolders {
		if err := mgr.Watch(folder); err != nil {
			logger.Error().Err(err).Str("folder", folder).Msg("Folder not watched")
			continue
		}
		watched++
	}
	if added == 0 && watched == 0 {
		logger.Fatal().Msg("No volume could be indexed")
	}

	shutdown := func() {
		// Stop the monitors first: once nothing mutates the indexes, each
		// saved pair matches exactly where its monitor stopped.
		mgr.Close()
		if store != nil {
			if err := mgr.SaveAll(); err != nil {
				logger.Error().Err(err).Msg("Saving indexes failed")
			}
		}
	}

	// One-shot mode: query, print, optionally export, exit.
	if query != "" {
		resp, err := runQuery(mgr, query, cfg.SearchLimit)
		if err != nil {
			logger.Error().Err(err).Msg("Query failed")
			shutdown()
			os.Exit(1)
		}
		printResults(os.Stdout, resp)
		if exportPath != "" {
			if err := export.ToFile(exportPath, resp.Results); err != nil {
				logger.Error().Err(err).Str("path", exportPath).Msg("Export failed")
				shutdown()
				os.Exit(1)
			}
			logger.Info().Str("path", exportPath).Int("results", len(resp.Results)).Msg("Results exported")
		}
		shutdown()
		return
	}

	// A signal during the interactive loop still saves before exiting.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info().Str("signal", sig.String()).Msg("Received signal, saving indexes")
		shutdown()
		os.Exit(0)
	}()

	if err := runREPL(mgr, cfg); err != nil {
		logger.Error().Err(err).Msg("Interactive session failed")
	}
	shutdown()
}

// runQuery parses filter tokens out of line and runs the remaining text as
// the fuzzy query.
func runQuery(mgr *drives.Manager, line string, limit int) (*search.Response, error) {
	text, flt, err := filters.Parse(line)
	if err != nil {
		return nil, err
	}
	return mgr.Search(context.Background(), text, flt.Predicates(), limit)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
