package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/motion"
	"github.com/spf13/cobra"
)

var motionDuration time.Duration

var motionEventCmd = &cobra.Command{
	Use:   "motion-event CAMERA",
	Short: "Emulate a motion event",
	Long: `Switch emulate_motion on for a camera, wait for the duration and switch it
off again. Interrupting the command switches it off straight away.`,
	Example: `  # Emulate 10 seconds of motion on camera 1
  motioncomm motion-event 1 --duration 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runMotionEvent,
}

func init() {
	rootCmd.AddCommand(motionEventCmd)
	motionEventCmd.Flags().DurationVar(&motionDuration, "duration", 5*time.Second, "how long the emulated motion lasts")
}

func runMotionEvent(cmd *cobra.Command, args []string) error {
	cameraID := args[0]
	if motionDuration <= 0 {
		return fmt.Errorf("--duration must be positive")
	}

	client, _, err := newMotionClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emulator := motion.NewEmulator(client)
	if err := emulator.Trigger(ctx, cameraID, motionDuration); err != nil {
		return err
	}
	fmt.Printf("Emulating motion on camera %s for %s\n", cameraID, motionDuration)

	if err := emulator.Wait(ctx, cameraID); err != nil {
		emulator.Cancel(cameraID)
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := client.SetParameter(offCtx, cameraID, motion.ParamEmulateMotion, "off")
		return confirm("emulate_motion off", cameraID, ok, err)
	}
	fmt.Println("Motion emulation finished")
	return nil
}
