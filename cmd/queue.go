package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/fetcharr/internal/config"
)

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the persisted queue and download history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQueue(appConfig, cmd.OutOrStdout())
		},
	}
}

func runQueue(cfg *config.Config, out io.Writer) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshot, err := store.Load()
	if err != nil {
		return err
	}

	if snapshot == nil || len(snapshot.Jobs) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No downloads."))
		return nil
	}

	fmt.Fprintln(out, headerStyle.Render("Queue"))
	fmt.Fprintln(out, renderQueue(snapshot))
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("History"))
	fmt.Fprintln(out, renderHistory(snapshot))

	return nil
}
