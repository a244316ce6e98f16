package main

import (
	"github.com/spf13/cobra"

	"activewatcher/internal/client"
)

var (
	queryBucket string
	querySource string
	queryFrom   string
	queryTo     string
	chunkSecs   int
	appsLimit   int
	heatmapTZ   string
	heatmapMode string
	heatmapApps []string
)

func addWindowFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&queryFrom, "from", "", "window start (RFC 3339 with offset)")
	cmd.Flags().StringVar(&queryTo, "to", "", "window end (RFC 3339 with offset)")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List intervals clipped to a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := parseWindow(queryFrom, queryTo)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Events(cmd.Context(), queryBucket, querySource, w)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, res)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print totals, top apps and the merged timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := parseWindow(queryFrom, queryTo)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Summary(cmd.Context(), w, chunkSecs)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, res)
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List distinct apps seen in a window",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := parseWindow(queryFrom, queryTo)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Apps(cmd.Context(), w, appsLimit)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, res)
	},
}

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Print per-day totals in a timezone",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := parseWindow(queryFrom, queryTo)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Heatmap(cmd.Context(), client.HeatmapParams{
			Window: w,
			TZ:     heatmapTZ,
			Mode:   heatmapMode,
			Apps:   heatmapApps,
		})
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, res)
	},
}

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Print the extent of stored data",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Range(cmd.Context(), queryBucket, querySource)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, res)
	},
}

// statusResult is printed by the status command.
type statusResult struct {
	ServerURL string  `json:"server_url"`
	Status    string  `json:"status"`
	Empty     bool    `json:"empty"`
	FromTS    *string `json:"from_ts"`
	ToTS      *string `json:"to_ts"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the server is up and show the stored data range",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		status, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		rng, err := c.Range(cmd.Context(), "", "")
		if err != nil {
			return err
		}
		res := statusResult{
			ServerURL: c.BaseURL(),
			Status:    status,
			Empty:     rng.Empty,
			FromTS:    rng.FromTS,
			ToTS:      rng.ToTS,
		}
		return printResult(cmd.OutOrStdout(), outputFormat, res)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{eventsCmd, summaryCmd, appsCmd, heatmapCmd} {
		addWindowFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{eventsCmd, rangeCmd} {
		cmd.Flags().StringVar(&queryBucket, "bucket", "", "only this bucket")
		cmd.Flags().StringVar(&querySource, "source", "", "only this source")
	}
	summaryCmd.Flags().IntVar(&chunkSecs, "chunk-seconds", 300, "timeline chunk size")
	appsCmd.Flags().IntVar(&appsLimit, "limit", 500, "maximum number of apps")
	heatmapCmd.Flags().StringVar(&heatmapTZ, "tz", "UTC", "IANA timezone for day boundaries")
	heatmapCmd.Flags().StringVar(&heatmapMode, "mode", "auto", "auto, active or window")
	heatmapCmd.Flags().StringArrayVar(&heatmapApps, "app", nil, "only count these apps (repeatable)")
}
