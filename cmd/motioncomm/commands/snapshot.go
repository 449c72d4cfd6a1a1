package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var makeMovie bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot CAMERA",
	Short: "Ask the daemon to save a snapshot",
	Example: `  # Save a snapshot of camera 1
  motioncomm snapshot 1

  # Close the current movie file instead
  motioncomm snapshot 1 --movie`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().BoolVar(&makeMovie, "movie", false, "close the current movie file instead of taking a snapshot")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	client, _, err := newMotionClient()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if makeMovie {
		ok, err := client.MakeMovie(ctx, args[0])
		if err := confirm("makemovie", args[0], ok, err); err != nil {
			return err
		}
		fmt.Printf("Movie closed on camera %s\n", args[0])
		return nil
	}

	ok, err := client.Snapshot(ctx, args[0])
	if err := confirm("snapshot", args[0], ok, err); err != nil {
		return err
	}
	fmt.Printf("Snapshot saved on camera %s\n", args[0])
	return nil
}
