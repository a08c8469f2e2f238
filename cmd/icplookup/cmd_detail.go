package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"icplookup/internal/icp"
)

var detailType string

var detailCmd = &cobra.Command{
	Use:   "detail [dataId]",
	Short: "Fetch the extended record for an app-family entry",
	Long: `Fetches the detail record for an app, mini-program or quick-app
entry using the data id reported by a previous query. Detail lookups do
not require a captcha round.

Example:
  icplookup detail 123456 --type app`,
	Args: cobra.ExactArgs(1),
	RunE: runDetail,
}

func init() {
	detailCmd.Flags().StringVarP(&detailType, "type", "t", "app", "service type: app, mapp or kapp")
}

func runDetail(cmd *cobra.Command, args []string) error {
	dataID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid data id %q: %w", args[0], err)
	}
	serviceType, err := icp.ParseServiceType(detailType)
	if err != nil {
		return err
	}
	if serviceType == icp.ServiceWeb {
		return fmt.Errorf("detail lookup only applies to app, mapp and kapp entries")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// No captcha round means no solver is needed.
	client := icp.NewClient(clientConfig(cfg), nil)
	record, err := client.Detail(ctx, dataID, serviceType)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", record.UnitName, serviceType)
	if record.ServiceName != "" {
		fmt.Printf("  service name:    %s\n", record.ServiceName)
	}
	if record.NatureName != "" {
		fmt.Printf("  nature:          %s\n", record.NatureName)
	}
	if record.MainLicence != "" {
		fmt.Printf("  main licence:    %s\n", record.MainLicence)
	}
	if record.ServiceLicence != "" {
		fmt.Printf("  service licence: %s\n", record.ServiceLicence)
	}
	if record.MainUnitAddress != "" {
		fmt.Printf("  address:         %s\n", record.MainUnitAddress)
	}
	if record.ServiceContent != "" {
		fmt.Printf("  content:         %s\n", record.ServiceContent)
	}
	if record.ServiceScope != "" {
		fmt.Printf("  scope:           %s\n", record.ServiceScope)
	}
	if record.UpdateRecordTime != "" {
		fmt.Printf("  approved:        %s\n", record.UpdateRecordTime)
	}
	return nil
}
