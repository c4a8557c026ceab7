package cmd

import (
	"sort"

	"github.com/habedi/cloudauth/fetcher"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// quotaCmd shows the storage quota. Without --refresh it prints the cached value.
func quotaCmd() *cobra.Command {
	var refresh, asJSON bool

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show the storage quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := svc.fetcher.Quota(cmd.Context(), fetcher.Options{ForceRefresh: refresh})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}

			table := newTable(cmd.OutOrStdout(), "Total", "Used", "Remaining", "Updated", "Source")
			table.Append([]string{
				sizeField(res.Data, fetcher.QuotaTotal),
				sizeField(res.Data, fetcher.QuotaUsed),
				sizeField(res.Data, fetcher.QuotaRemain),
				formatTime(res.UpdatedAt),
				source(res),
			})
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Fetch from upstream instead of showing the cached value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// userCmd shows the account profile. Without --refresh it prints the cached value.
func userCmd() *cobra.Command {
	var refresh, asJSON bool

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Show the account profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := svc.fetcher.UserInfo(cmd.Context(), fetcher.Options{ForceRefresh: refresh})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}

			keys := make([]string, 0, len(res.Data))
			for k := range res.Data {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			table := newTable(cmd.OutOrStdout(), "Field", "Value")
			for _, k := range keys {
				if v := stringField(res.Data, k); v != "" {
					table.Append([]string{k, v})
				}
			}
			table.Render()
			cmd.Printf("Updated %s (%s)\n", formatTime(res.UpdatedAt), source(res))
			log.Info().Int("fields", len(keys)).Bool("cached", res.Cached).Msg("Printed user info")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Fetch from upstream instead of showing the cached value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func sizeField(data map[string]any, key string) string {
	n, ok := numberField(data, key)
	if !ok {
		return "?"
	}
	return formatBytes(n)
}

func source(res *fetcher.Result) string {
	if res.Cached {
		return "cache"
	}
	return "upstream"
}
