package cmd

import (
	"bufio"
	"time"

	"github.com/habedi/cloudauth/auth"
	"github.com/habedi/cloudauth/pkg/autherr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// tokenCmd groups the commands that manage the stored token pair.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored access and refresh tokens",
	}
	cmd.AddCommand(
		tokenSetCmd(),
		tokenGetCmd(),
		tokenRefreshCmd(),
		tokenStatusCmd(),
	)
	return cmd
}

func tokenSetCmd() *cobra.Command {
	var accessToken, refreshToken string
	var expiresIn time.Duration

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a token pair obtained elsewhere",
		Long:  "Store a token pair. Tokens not given as flags are prompted for; input is hidden on a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if accessToken == "" && refreshToken == "" {
				in := cmd.InOrStdin()
				r := bufio.NewReader(in)
				if accessToken, err = promptForSecret(in, r, cmd.OutOrStdout(), "Access token: "); err != nil {
					return err
				}
				if refreshToken, err = promptForSecret(in, r, cmd.OutOrStdout(), "Refresh token: "); err != nil {
					return err
				}
			}
			if expiresIn < 0 {
				return autherr.New(autherr.Config, "--expires-in cannot be negative", nil)
			}

			var expiresAt time.Time
			if expiresIn > 0 {
				expiresAt = time.Now().Add(expiresIn)
			}
			if err := svc.coord.SetTokens(cmd.Context(), accessToken, refreshToken, expiresAt); err != nil {
				return err
			}
			cmd.Println("Tokens saved successfully.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&accessToken, "access", "a", "", "Access token")
	cmd.Flags().StringVarP(&refreshToken, "refresh", "r", "", "Refresh token")
	cmd.Flags().DurationVarP(&expiresIn, "expires-in", "e", 0, "Remaining lifetime of the access token (e.g. 2h); unknown if omitted")
	return cmd
}

func tokenGetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a valid access token, refreshing it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := svc.coord.GetValidAccessToken(cmd.Context(), auth.TokenOptions{ForceAutoRefresh: force})
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Refresh even if auto-refresh is disabled")
	return cmd
}

func tokenRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair now",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Msg("Refreshing token pair on request")
			pair, err := svc.coord.Refresh(cmd.Context(), "")
			if err != nil {
				return err
			}
			cmd.Println("Token refreshed successfully.")
			cmd.Println("Expires at:", formatTime(pair.ExpiresAt))
			return nil
		},
	}
}

func tokenStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show token expiry and refresh rate-limit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := svc.coord.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}

			table := newTable(cmd.OutOrStdout(), "Field", "Value")
			table.Append([]string{"Access token", orNone(st.AccessToken)})
			table.Append([]string{"Refresh token", orNone(st.RefreshToken)})
			table.Append([]string{"Expires at", formatTime(st.ExpiresAt)})
			table.Append([]string{"Fresh", yesNo(st.Fresh)})
			table.Append([]string{"Last refresh", formatTime(st.LastRefreshAt)})
			table.Append([]string{"Refreshes in last 2h", itoa(st.RefreshesIn2h) + " / " + itoa(st.Settings.MaxRefreshesPerTwoHours)})
			if st.RefreshAllowed {
				table.Append([]string{"Refresh allowed", "yes"})
			} else {
				table.Append([]string{"Refresh allowed", "no, " + st.RefreshDenied + "; retry in " + st.RetryAfter})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
