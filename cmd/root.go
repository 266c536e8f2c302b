package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "stripscan",
		Short: "35mm film strip scanner controller",
		Long: `Stripscan drives a stepper-based film transport and a tethered camera
to digitize 35mm negatives strip by strip.

Calibrate the frame spacing once per roll, then capture frames while the
transport auto-advances. Progress is saved after every frame so an
interrupted roll resumes where it left off.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file (defaults apply when omitted)")

	cmd.AddCommand(newRunCmd(&cfgPath))
	cmd.AddCommand(newProbeCmd(&cfgPath))

	return cmd
}
