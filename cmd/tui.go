package cmd

import (
	"github.com/spf13/cobra"

	"filesift/internal/directory"
	"filesift/internal/tui"
)

var (
	tuiWalk    walkFlags
	tuiFilters directory.FilterSpec
	tuiNoChat  bool
)

var tuiCmd = &cobra.Command{
	Use:   "tui [dir]",
	Short: "Build and query a search workspace interactively",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var source string
		if len(args) == 1 {
			source = args[0]
		}
		return runTUI(cmd, source)
	},
}

func runTUI(cmd *cobra.Command, source string) error {
	opts, err := tuiWalk.options(cmd.Context())
	if err != nil {
		return err
	}
	opts.Ignore = append(opts.Ignore, defaultWorkspace)
	sc, err := searchConfig(opts, tuiFilters)
	if err != nil {
		return err
	}

	c := tui.Config{
		Workspace: flagWorkspace,
		Source:    source,
		Search:    sc,
		K:         cfg.Search.TopK,
	}
	if !tuiNoChat {
		c.Chat = newChat()
	}
	return tui.Run(c)
}

func init() {
	tuiCmd.Flags().StringVarP(&flagWorkspace, "workspace", "w", defaultWorkspace, "search workspace folder")
	tuiCmd.Flags().BoolVar(&tuiNoChat, "no-chat", false, "show the retrieved chunks without asking the chat model")
	addWalkFlags(tuiCmd, &tuiWalk)
	addFilterFlags(tuiCmd, &tuiFilters)
	rootCmd.AddCommand(tuiCmd)
}
