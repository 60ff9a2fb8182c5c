package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/noah-isme/filevault-api/internal/models"
)

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the caller's quota snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			snapshot, err := newAPIClient(serverURL, token, nil).quota(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "storage\t%s / %s\t%.2f%%%s\n", bytesOf(snapshot.Storage.Used), bytesOf(snapshot.Storage.Total),
				snapshot.Storage.Percentage, flag(snapshot.Storage.IsCritical, snapshot.Storage.IsNearLimit))
			fmt.Fprintf(w, "files\t%d / %d\t%d left%s\n", snapshot.Files.Count, snapshot.Files.Max, snapshot.Files.Remaining,
				flag(false, snapshot.Files.IsNearLimit))
			fmt.Fprintf(w, "today\t%s / %s\t%.2f%%%s\n", bytesOf(snapshot.Daily.Used), bytesOf(snapshot.Daily.Limit),
				snapshot.Daily.Percentage, flag(false, snapshot.Daily.IsNearLimit))

			categories := make([]string, 0, len(snapshot.ByType))
			for category := range snapshot.ByType {
				categories = append(categories, string(category))
			}
			sort.Strings(categories)
			for _, category := range categories {
				usage := snapshot.ByType[models.FileCategory(category)]
				fmt.Fprintf(w, "  %s\t%d files\t%s\n", category, usage.Count, bytesOf(usage.Size))
			}
			return w.Flush()
		},
	}
}

func newFilesCmd() *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"ls"},
		Short:   "List the caller's files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			files, err := newAPIClient(serverURL, token, nil).listFiles(ctx, search)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSIZE\tTYPE")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Filename, bytesOf(f.Size), f.MimeType)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "filter by name")
	return cmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <email>",
		Short: "Request a development token (non-production servers only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := newAPIClient(serverURL, "", nil).devToken(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.AccessToken)
			return nil
		},
	}
}

func bytesOf(n int64) string { return units.BytesSize(float64(n)) }

func flag(critical, near bool) string {
	switch {
	case critical:
		return "  CRITICAL"
	case near:
		return "  near limit"
	}
	return ""
}
