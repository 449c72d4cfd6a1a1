package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bryanchriswhite/motioncomm/internal/capture"
	"github.com/bryanchriswhite/motioncomm/internal/motion"
	"github.com/bryanchriswhite/motioncomm/internal/stream"
	"github.com/spf13/cobra"
)

var (
	captureFrames      int
	captureDestination string
)

var captureCmd = &cobra.Command{
	Use:   "capture CAMERA",
	Short: "Capture frames from a camera stream",
	Long: `Connect to a camera's MJPEG stream, capture the requested number of
frames and report each one. Frames are encoded as configured but not saved.`,
	Example: `  # Capture 10 frames from camera 1
  motioncomm capture 1 --frames 10

  # Capture with debug logging to watch the broadcaster
  motioncomm capture 1 --frames 3 --destination test --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().IntVarP(&captureFrames, "frames", "n", 1, "number of frames to capture")
	captureCmd.Flags().StringVarP(&captureDestination, "destination", "d", "cli", "destination name reported with each frame")
}

// frameReporter prints frames as they arrive and hands over the final result.
type frameReporter struct {
	out     io.Writer
	mu      sync.Mutex
	count   int
	results chan capture.Result
}

func (r *frameReporter) OnNewFrame(cameraID string, frame []byte, destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	fmt.Fprintf(r.out, "frame %d: camera=%s destination=%s bytes=%d\n", r.count, cameraID, destination, len(frame))
}

func (r *frameReporter) OnStatusChanged(cameraID string) {}

func (r *frameReporter) OnCaptureResult(result capture.Result) {
	r.results <- result
}

func runCapture(cmd *cobra.Command, args []string) error {
	cameraID := args[0]

	configMgr, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	client := motion.NewClient(cfg.MotionClientConfig())
	reporter := &frameReporter{out: cmd.OutOrStdout(), results: make(chan capture.Result, 1)}

	coordinator, err := capture.NewCoordinator(stream.NewHTTPSource(client), reporter, cfg.CaptureConfig())
	if err != nil {
		return err
	}
	defer coordinator.Close()

	if _, err := coordinator.CaptureFrames(cameraID, captureFrames, captureDestination); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var result capture.Result
	select {
	case result = <-reporter.results:
	case <-sigChan:
		// Closing the coordinator ends the run, which still reports a result
		coordinator.Close()
		result = <-reporter.results
	}

	fmt.Fprintf(cmd.OutOrStdout(), "captured %d/%d frames from camera %s in %s\n",
		result.Delivered, result.Requested, result.CameraID, result.Ended.Sub(result.Started).Round(time.Millisecond))
	if result.Err != nil {
		return fmt.Errorf("capture ended early: %w", result.Err)
	}
	return nil
}
