package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlaroche/stripscan/internal/config"
	"github.com/mlaroche/stripscan/internal/debug"
	"github.com/mlaroche/stripscan/internal/hw/camera"
	"github.com/mlaroche/stripscan/internal/hw/link"
	"github.com/mlaroche/stripscan/internal/hw/transport"
	"github.com/mlaroche/stripscan/internal/logic/capture"
	"github.com/mlaroche/stripscan/internal/logic/motion"
	"github.com/mlaroche/stripscan/internal/logic/scan"
	"github.com/mlaroche/stripscan/internal/state"
	"github.com/mlaroche/stripscan/internal/web"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	var (
		roll    string
		webPort int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scanner and its web interface",
		Long: `Connects to the transport firmware and the camera, then serves the
control interface until interrupted.

On startup the firmware is unlocked, energized and pushed the configured
step sizes. On shutdown the motor is released and the firmware locked
again so the film cannot be moved accidentally.`,
		Example: `  # defaults: auto-probe serial port, web interface on :8080
  stripscan run

  # resume a roll immediately and serve on a custom port
  stripscan run --roll kodak-gold-01 --web-port 8980`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("web-port") {
				cfg.Defaults.WebPort = webPort
			} else if cfg.Defaults.WebPort == 0 {
				cfg.Defaults.WebPort = 8080
			}

			ctx := cmd.Context()

			broadcaster := web.NewBroadcaster()
			debug.Init(cfg.Defaults.DebugLevel)
			debug.SetOutput(io.MultiWriter(os.Stdout, web.Writer(broadcaster)))

			debug.Section("Initialization")
			debug.Value("Mock serial", cfg.Serial.Mock)

			debug.Step(1, "Opening transport link")
			lk, err := link.New(cfg.Serial.Mock, cfg.Serial.Port, cfg.Serial.BaudRate, link.SerialOptions{
				ReadTimeout: cfg.ReadTimeout(),
				ResetDelay:  cfg.ResetDelay(),
			})
			if err != nil {
				return fmt.Errorf("open transport link: %w", err)
			}
			defer func() {
				if err := lk.Close(); err != nil {
					debug.Warn("closing link: %v", err)
				}
			}()

			debug.Step(2, "Configuring firmware")
			tr := transport.New(lk)
			if err := initFirmware(tr, cfg.Motor); err != nil {
				return fmt.Errorf("configure firmware: %w", err)
			}

			debug.Step(3, "Detecting camera")
			cam := camera.NewGPhoto2(cfg.Camera.Binary, cfg.DetectInterval())
			info, err := cam.Detect(ctx)
			if err != nil {
				debug.Warn("camera detect: %v", err)
			}
			if info.Connected {
				debug.Value("Camera", info.Model)
				cam.SetupRAW(ctx)
			} else {
				debug.Warn("no camera detected, captures will fail until one is connected")
			}

			debug.Step(4, "Assembling session")
			ctrl := motion.NewController(tr, motion.Config{
				FineStep:       cfg.Motor.FineStep,
				CoarseStep:     cfg.Motor.CoarseStep,
				BacklashSteps:  cfg.Motor.BacklashSteps,
				DefaultAdvance: cfg.Motor.DefaultAdvance,
				MaxExactSteps:  cfg.Motor.MaxExactSteps,
			})
			orch := capture.NewOrchestrator(cam, capture.Timeouts{
				Focus:   cfg.FocusTimeout(),
				Capture: cfg.CaptureTimeout(),
			})
			store := state.NewStore(cfg.Scan.ScansDir)
			session := scan.New(ctrl, orch, store, cfg.Scan.FramesPerStrip)

			if roll != "" {
				res, err := session.OpenRoll(roll)
				if err != nil {
					return fmt.Errorf("open roll %q: %w", roll, err)
				}
				if res.Resumed {
					debug.Info("resumed roll %q at frame %d, position %d", roll, res.FrameCount, res.Position)
				} else {
					debug.Info("started roll %q", roll)
				}
			}

			ctrl.StartReconciler(ctx, 0)

			if cfg.Defaults.WebPort > 0 {
				srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Defaults.WebPort), session, broadcaster)
				if err != nil {
					return fmt.Errorf("web server: %w", err)
				}
				if err := srv.Run(ctx); err != nil {
					return fmt.Errorf("web server: %w", err)
				}
			} else {
				debug.Info("web interface disabled, waiting for interrupt")
				<-ctx.Done()
			}

			debug.Section("Shutdown")
			if err := session.Close(); err != nil {
				debug.Warn("saving session: %v", err)
			}
			if err := tr.MotorOff(); err != nil {
				debug.Warn("motor off: %v", err)
			}
			if err := tr.Lock(); err != nil {
				debug.Warn("lock firmware: %v", err)
			}
			debug.Summary("stripscan stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&roll, "roll", "", "open or resume this roll at startup")
	cmd.Flags().IntVar(&webPort, "web-port", 8080, "web interface port, 0 to disable")

	return cmd
}

// initFirmware runs the wake-up sequence: unlock, energize, then push the
// configured step sizes so the firmware and controller agree on geometry.
func initFirmware(tr *transport.Transport, m config.MotorConfig) error {
	if err := tr.Unlock(); err != nil {
		return err
	}
	if err := tr.MotorOn(); err != nil {
		return err
	}
	if err := tr.SetStepDelay(m.StepDelayUs); err != nil {
		return err
	}
	if err := tr.SetFineStep(m.FineStep); err != nil {
		return err
	}
	if err := tr.SetCoarseStep(m.CoarseStep); err != nil {
		return err
	}
	if err := tr.SetBacklash(m.BacklashSteps); err != nil {
		return err
	}
	return tr.SetFrameAdvance(m.DefaultAdvance)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
