package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Inspect cameras known to the Motion daemon",
}

var camerasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List camera IDs and names",
	Example: `  # List cameras on the local daemon
  motioncomm cameras list

  # List cameras on another host
  motioncomm cameras list --motion-host nvr.local`,
	RunE: runCamerasList,
}

var camerasInfoCmd = &cobra.Command{
	Use:   "info CAMERA",
	Short: "Show a camera's name, detection status and stream rate",
	Args:  cobra.ExactArgs(1),
	RunE:  runCamerasInfo,
}

func init() {
	rootCmd.AddCommand(camerasCmd)
	camerasCmd.AddCommand(camerasListCmd)
	camerasCmd.AddCommand(camerasInfoCmd)
}

func runCamerasList(cmd *cobra.Command, args []string) error {
	client, _, err := newMotionClient()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	html, err := client.IsHTMLOutputEnabled(ctx)
	if err != nil {
		return err
	}
	if html {
		return fmt.Errorf("webcontrol at %s answers in HTML; set webcontrol_interface to text", client.BaseURL())
	}

	ids, err := client.Threads(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No cameras configured")
		return nil
	}

	fmt.Printf("%-8s %s\n", "ID", "NAME")
	for _, id := range ids {
		name, err := client.CameraName(ctx, id)
		if err != nil {
			name = "?"
		}
		fmt.Printf("%-8s %s\n", id, name)
	}
	return nil
}

func runCamerasInfo(cmd *cobra.Command, args []string) error {
	client, _, err := newMotionClient()
	if err != nil {
		return err
	}

	info, err := client.CameraInfo(commandContext(cmd), args[0])
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}
