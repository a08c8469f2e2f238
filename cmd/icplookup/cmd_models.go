package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"icplookup/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the captcha model files",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download missing model files",
	RunE:  runModelsDownload,
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which model files are present",
	RunE:  runModelsStatus,
}

func init() {
	modelsCmd.AddCommand(modelsDownloadCmd)
	modelsCmd.AddCommand(modelsStatusCmd)
}

func runModelsDownload(cmd *cobra.Command, args []string) error {
	manifest, err := models.LoadManifest(manifestPath(cfg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	downloader := models.NewDownloader()
	err = downloader.Download(ctx, manifest, cfg.DataDir, func(fraction float64, message string) {
		fmt.Printf("\r\033[K[%3.0f%%] %s", fraction*100, message)
	})
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Println("Models ready.")
	return nil
}

func runModelsStatus(cmd *cobra.Command, args []string) error {
	manifest, err := models.LoadManifest(manifestPath(cfg))
	if err != nil {
		return err
	}
	detectorPath, siamesePath := manifest.Paths(cfg.DataDir)

	fmt.Printf("model version: %s\n", manifest.Version)
	printFileStatus("detection model ", detectorPath)
	printFileStatus("similarity model", siamesePath)
	return nil
}

func printFileStatus(label, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("  %s  missing   %s\n", label, path)
		return
	}
	fmt.Printf("  %s  %6.1fMB  %s\n", label, float64(info.Size())/(1<<20), path)
}
