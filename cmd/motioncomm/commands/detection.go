package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var detectionCmd = &cobra.Command{
	Use:   "detection",
	Short: "Control motion detection",
}

var detectionStartCmd = &cobra.Command{
	Use:   "start CAMERA",
	Short: "Resume motion detection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newMotionClient()
		if err != nil {
			return err
		}
		ok, err := client.StartDetection(commandContext(cmd), args[0])
		if err := confirm("detection start", args[0], ok, err); err != nil {
			return err
		}
		fmt.Printf("Detection started on camera %s\n", args[0])
		return nil
	},
}

var detectionPauseCmd = &cobra.Command{
	Use:   "pause CAMERA",
	Short: "Pause motion detection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newMotionClient()
		if err != nil {
			return err
		}
		ok, err := client.PauseDetection(commandContext(cmd), args[0])
		if err := confirm("detection pause", args[0], ok, err); err != nil {
			return err
		}
		fmt.Printf("Detection paused on camera %s\n", args[0])
		return nil
	},
}

var detectionStatusCmd = &cobra.Command{
	Use:   "status CAMERA",
	Short: "Show the detection status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newMotionClient()
		if err != nil {
			return err
		}
		status, err := client.DetectionStatus(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectionCmd)
	detectionCmd.AddCommand(detectionStartCmd)
	detectionCmd.AddCommand(detectionPauseCmd)
	detectionCmd.AddCommand(detectionStatusCmd)
}
