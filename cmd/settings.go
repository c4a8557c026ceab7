package cmd

import (
	"strconv"

	"github.com/habedi/cloudauth/auth"
	"github.com/spf13/cobra"
)

// settingsCmd shows and edits the persisted refresh policy.
func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the token refresh policy",
	}
	cmd.AddCommand(settingsShowCmd(), settingsSetCmd())
	return cmd
}

func settingsShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective refresh policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := svc.coord.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printSettings(cmd, st.Settings, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func settingsSetCmd() *cobra.Command {
	var minInterval, maxPerWindow, skew int
	var autoRefresh bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the refresh policy",
		Long:  "Change the refresh policy. The minimum interval between refreshes is never below 30 minutes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd auth.SettingsUpdate
			flags := cmd.Flags()
			if flags.Changed("min-interval") {
				upd.MinRefreshIntervalMinutes = &minInterval
			}
			if flags.Changed("max-per-2h") {
				upd.MaxRefreshesPerTwoHours = &maxPerWindow
			}
			if flags.Changed("auto-refresh") {
				upd.AutoRefreshEnabled = &autoRefresh
			}
			if flags.Changed("skew") {
				upd.AutoRefreshSkewSeconds = &skew
			}

			settings, err := svc.coord.UpdateSettings(cmd.Context(), upd)
			if err != nil {
				return err
			}
			return printSettings(cmd, settings, false)
		},
	}

	cmd.Flags().IntVar(&minInterval, "min-interval", 30, "Minimum minutes between refreshes (floor 30)")
	cmd.Flags().IntVar(&maxPerWindow, "max-per-2h", 3, "Maximum refreshes in any two-hour window")
	cmd.Flags().BoolVar(&autoRefresh, "auto-refresh", true, "Refresh expired tokens automatically")
	cmd.Flags().IntVar(&skew, "skew", 60, "Seconds before expiry at which a token counts as expired")
	return cmd
}

func printSettings(cmd *cobra.Command, s auth.Settings, asJSON bool) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), s)
	}
	table := newTable(cmd.OutOrStdout(), "Setting", "Value")
	table.Append([]string{"Minimum refresh interval (minutes)", itoa(s.MinRefreshIntervalMinutes)})
	table.Append([]string{"Maximum refreshes per 2 hours", itoa(s.MaxRefreshesPerTwoHours)})
	table.Append([]string{"Auto-refresh", yesNo(s.AutoRefreshEnabled)})
	table.Append([]string{"Skew (seconds)", itoa(s.AutoRefreshSkewSeconds)})
	table.Render()
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
