package cmd

import (
	"strconv"
	"strings"
	"sync"

	"github.com/habedi/cloudauth/client"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// searchCmd searches the cloud drive. Results are never cached.
func searchCmd() *cobra.Command {
	var all, asJSON bool
	var offset, limit int
	var fileType string

	cmd := &cobra.Command{
		Use:   "search [keyword]",
		Short: "Search files in the cloud drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyword := strings.TrimSpace(args[0])
			if limit <= 0 {
				limit = svc.cfg.Search.PageSize
			}

			var items []map[string]any
			var total int
			if all {
				offset = 0
				var bar *progressbar.ProgressBar
				var once sync.Once
				var mu sync.Mutex
				var err error
				items, total, err = svc.fetcher.SearchAll(cmd.Context(), keyword, limit, func(done, pages int) {
					once.Do(func() {
						bar = progressbar.NewOptions(pages,
							progressbar.OptionSetDescription("Fetching search results..."),
							progressbar.OptionSetWriter(cmd.ErrOrStderr()),
							progressbar.OptionSetWidth(20),
							progressbar.OptionShowCount(),
							progressbar.OptionClearOnFinish(),
						)
					})
					mu.Lock()
					defer mu.Unlock()
					_ = bar.Add(1)
				})
				if bar != nil {
					_ = bar.Finish()
				}
				if err != nil {
					if len(items) == 0 {
						return err
					}
					cmd.PrintErrln("Warning: some result pages could not be fetched:", err)
				}
			} else {
				page, err := svc.fetcher.Search(cmd.Context(), client.SearchParams{Keyword: keyword, Offset: offset, Limit: limit, Type: fileType})
				if err != nil {
					return err
				}
				items, total = page.Items, page.Total
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"total": total, "items": items})
			}
			if len(items) == 0 {
				cmd.Println("No files found.")
				return nil
			}

			table := newTable(cmd.OutOrStdout(), "#", "File ID", "Name", "Size")
			for i, item := range items {
				size := "-"
				if n, err := strconv.ParseInt(stringField(item, "file_size", "fs", "size"), 10, 64); err == nil {
					size = formatBytes(n)
				}
				table.Append([]string{
					strconv.Itoa(offset + i + 1),
					stringField(item, "file_id", "fid", "cid"),
					strings.ReplaceAll(stringField(item, "file_name", "fn", "name"), "\n", " "),
					size,
				})
			}
			table.Render()
			cmd.Printf("Showing %d of %d results.\n", len(items), total)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Fetch every page of results")
	cmd.Flags().IntVarP(&offset, "offset", "o", 0, "Offset of the first result")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Results per page (default from config)")
	cmd.Flags().StringVarP(&fileType, "type", "t", "", "Filter by file type")
	return cmd
}
