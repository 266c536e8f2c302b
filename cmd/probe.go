package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlaroche/stripscan/internal/hw/camera"
	"github.com/mlaroche/stripscan/internal/hw/link"
	"github.com/mlaroche/stripscan/internal/hw/transport"
)

func newProbeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the transport link and camera, then exit",
		Long: `Opens the serial link, queries firmware status and runs a camera
auto-detect. Useful for verifying wiring before starting a scan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}

			lk, err := link.New(cfg.Serial.Mock, cfg.Serial.Port, cfg.Serial.BaudRate, link.SerialOptions{
				ReadTimeout: cfg.ReadTimeout(),
				ResetDelay:  cfg.ResetDelay(),
			})
			if err != nil {
				return fmt.Errorf("open transport link: %w", err)
			}
			defer lk.Close()

			tr := transport.New(lk)
			status, err := tr.Status()
			if err != nil {
				return fmt.Errorf("query firmware status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Transport firmware:")
			for _, line := range status.Raw {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", line)
			}

			cam := camera.NewGPhoto2(cfg.Camera.Binary, 0)
			info, err := cam.Detect(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Camera: detect failed: %v\n", err)
				return nil
			}
			if info.Connected {
				fmt.Fprintf(cmd.OutOrStdout(), "Camera: %s\n", info.Model)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Camera: none detected")
			}
			return nil
		},
	}
	return cmd
}
