package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/matricula-crawler/internal/crawler"
)

func newNewsfeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsfeed",
		Short: "Work with Matricula Online's newsfeed",
	}
	cmd.AddCommand(newNewsfeedFetchCmd())
	return cmd
}

func newNewsfeedFetchCmd() *cobra.Command {
	var (
		out       outputFlags
		lastNDays int
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "fetch [output-name]",
		Short: "Download the newsfeed",
		Long: `Downloads the articles of https://data.matricula-online.eu/en/nachrichten/,
where Matricula announces new parishes and registers. The whole feed is
fetched unless --last-n-days bounds it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if lastNDays < 0 {
				return errors.New("--last-n-days must not be negative")
			}
			name := "matricula_newsfeed"
			if len(args) == 1 {
				name = args[0]
			}
			s, path, err := out.open(cmd.Context(), app, name)
			if err != nil {
				return err
			}
			recs := app.Crawler().Newsfeed(cmd.Context(), crawler.NewsfeedOptions{LastNDays: lastNDays, Limit: limit})
			return drain(cmd.Context(), app, recs, s, path, true)
		},
	}
	out.register(cmd)
	cmd.Flags().IntVarP(&lastNDays, "last-n-days", "n", 0, "only articles of the last n days, today included")
	cmd.Flags().IntVar(&limit, "limit", crawler.DefaultNewsfeedLimit, "upper bound on scraped articles")
	return cmd
}
