package main

import (
	"fmt"

	"github.com/dgnsrekt/ttscache/internal/doctor"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check engine binaries, voices and credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		results := doctor.Run(cmd.Context(), doctor.Config{
			PiperBinary:     cfg.Engines.PiperBinary,
			PiperModelsDir:  cfg.Engines.PiperModelsDir,
			FFmpegBinary:    cfg.Engines.FFmpegBinary,
			FFprobeBinary:   cfg.Engines.FFprobeBinary,
			CredentialsFile: cfg.Engines.GoogleCredentials,
			Offline:         cfg.Engines.Offline,
		})
		fmt.Fprintln(cmd.OutOrStdout(), doctor.Report(results))
		return doctor.Err(results)
	},
}
