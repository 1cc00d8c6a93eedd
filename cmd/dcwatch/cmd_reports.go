package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"dcwatch/internal/report"

	"github.com/spf13/cobra"
)

var reportsLimit int

// reportsCmd reads the profile archive
var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Read archived profiles",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent archived profiles",
	Args:  cobra.NoArgs,
	RunE:  reportsList,
}

func reportsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Report.ArchivePath == "" {
		return fmt.Errorf("report.archive_path is not configured")
	}

	archive, err := report.OpenArchive(cfg.Report.ArchivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	records, err := archive.List(ctx, reportsLimit)
	if err != nil {
		return err
	}
	total, err := archive.Count(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXTRACTED\tNAME\tUSERNAME\tUSER ID\tMESSAGE")
	for _, r := range records {
		userID := "unknown"
		if r.UserID.Valid {
			userID = r.UserID.String
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ExtractedAt.Format("2006-01-02 15:04:05"), r.DisplayName, r.Username, userID, r.JumpURL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d profile(s)\n", len(records), total)
	return nil
}
