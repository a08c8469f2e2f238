package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"icplookup/internal/captcha"
	"icplookup/internal/config"
	"icplookup/internal/icp"
	"icplookup/internal/inference"
	"icplookup/internal/models"
	"icplookup/internal/store"
)

var (
	queryType     string
	queryPage     int
	queryPageSize int
	queryNoCache  bool
)

var queryCmd = &cobra.Command{
	Use:   "query [name]",
	Short: "Look up registry records by unit name, domain or licence number",
	Long: `Queries the registry for records matching the given search term.

The --type flag selects the registry partition:
  web   websites (default)
  app   mobile apps
  mapp  mini-programs
  kapp  quick-apps

Example:
  icplookup query example.com
  icplookup query "某某科技" --type app --page 2`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryType, "type", "t", "web", "service type: web, app, mapp or kapp")
	queryCmd.Flags().IntVar(&queryPage, "page", 1, "result page number")
	queryCmd.Flags().IntVar(&queryPageSize, "page-size", 20, "records per page")
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "bypass the local result cache")
}

func runQuery(cmd *cobra.Command, args []string) error {
	serviceType, err := icp.ParseServiceType(queryType)
	if err != nil {
		return err
	}
	req := icp.QueryRequest{
		UnitName:    args[0],
		ServiceType: serviceType,
		PageNum:     queryPage,
		PageSize:    queryPageSize,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cache *store.QueryCache
	if cfg.Cache.Enabled && !queryNoCache {
		cache, err = store.OpenQueryCache(cfg.DataDir, cfg.GetCacheTTL())
		if err != nil {
			logger.Warn("result cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer cache.Close()
			if cached, err := cache.Get(req); err == nil && cached != nil {
				printResult(cached, true)
				return nil
			}
		}
	}

	solver, cleanup, err := buildSolver(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	client := icp.NewClient(clientConfig(cfg), solver)
	result, err := client.Query(ctx, req)
	if err != nil {
		return err
	}

	if cache != nil {
		if err := cache.Put(req, result); err != nil {
			logger.Warn("failed to cache result", zap.Error(err))
		}
	}

	printResult(result, false)
	return nil
}

func clientConfig(cfg *config.Config) icp.Config {
	return icp.Config{
		APIBase:  cfg.Endpoints.APIBase,
		Origin:   cfg.Endpoints.Origin,
		Referer:  cfg.Endpoints.Referer,
		Timeout:  cfg.GetQueryTimeout(),
		Attempts: cfg.Query.Attempts,
	}
}

// buildSolver loads the two model sessions and assembles the pipeline.
// The cleanup function closes both sessions.
func buildSolver(cfg *config.Config) (*captcha.Solver, func(), error) {
	manifest, err := models.LoadManifest(manifestPath(cfg))
	if err != nil {
		return nil, nil, err
	}
	if !manifest.Present(cfg.DataDir) {
		return nil, nil, fmt.Errorf("model files missing under %s, run 'icplookup models download' first", cfg.DataDir)
	}
	detectorPath, siamesePath := manifest.Paths(cfg.DataDir)

	detection, err := inference.OpenSession(detectorPath, cfg.Models.ORTLibraryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load detection model: %w", err)
	}
	similarity, err := inference.OpenSession(siamesePath, cfg.Models.ORTLibraryPath)
	if err != nil {
		detection.Close()
		return nil, nil, fmt.Errorf("load similarity model: %w", err)
	}

	cleanup := func() {
		similarity.Close()
		detection.Close()
	}
	return captcha.NewSolver(detection, similarity), cleanup, nil
}

func manifestPath(cfg *config.Config) string {
	if cfg.Models.ManifestPath != "" {
		return cfg.Models.ManifestPath
	}
	return filepath.Join(cfg.DataDir, "models", "manifest.yaml")
}

func printResult(result *icp.QueryResult, fromCache bool) {
	if len(result.List) == 0 {
		fmt.Println("No matching records found.")
		return
	}

	source := ""
	if fromCache {
		source = " (cached)"
	}
	fmt.Printf("%d records, page %d of %d%s\n", result.Total, result.PageNum, result.Pages, source)
	fmt.Println(strings.Repeat("-", 60))

	for i, rec := range result.List {
		fmt.Printf("[%d] %s\n", i+1, rec.UnitName)
		if rec.NatureName != "" {
			fmt.Printf("    nature:          %s\n", rec.NatureName)
		}
		if rec.Domain != "" {
			fmt.Printf("    domain:          %s\n", rec.Domain)
		}
		if rec.ServiceName != "" {
			fmt.Printf("    service name:    %s\n", rec.ServiceName)
		}
		if rec.ServiceHome != "" {
			fmt.Printf("    home page:       %s\n", rec.ServiceHome)
		}
		if rec.MainLicence != "" {
			fmt.Printf("    main licence:    %s\n", rec.MainLicence)
		}
		if rec.ServiceLicence != "" {
			fmt.Printf("    service licence: %s\n", rec.ServiceLicence)
		}
		if rec.UpdateRecordTime != "" {
			fmt.Printf("    approved:        %s\n", rec.UpdateRecordTime)
		}
		if rec.DataID != 0 {
			fmt.Printf("    data id:         %d\n", rec.DataID)
		}
	}
}
