package cli

import (
	"resumetailor/internal/common"
	"resumetailor/internal/store"

	"github.com/spf13/cobra"
)

var applicationsCmd = &cobra.Command{
	Use:   "applications",
	Short: "List and update recorded job applications",
	Long: `Work with the local application history. Without a subcommand the
recorded applications are listed; use "applications update" to change the
applied status, job link or notes of an existing record.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfigFromContext(cmd.Context())
		if applicationsConfig.OutputFormat == "" {
			applicationsConfig.OutputFormat = cfg.App.DefaultFormat
		}
		return common.ValidateOutputFormat(applicationsConfig.OutputFormat, cfg.App.SupportedFormats)
	},
	RunE: runApplicationsList,
}

var applicationsConfig common.CommandConfig

func init() {
	applicationsCmd.Flags().StringVarP(&applicationsConfig.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	applicationsCmd.Flags().StringVar(&applicationsConfig.OutputFormat, "format", "", "Output format: json, text, or markdown")

	applicationsCmd.AddCommand(updateCmd)
}

func runApplicationsList(cmd *cobra.Command, args []string) error {
	cfg := getConfigFromContext(cmd.Context())
	logger := getLoggerFromContext(cmd.Context())

	records, err := store.New(cfg.StorePath()).ListAll()
	if err != nil {
		return err
	}

	outputHandler := common.NewOutputHandler(logger)
	return outputHandler.HandleOutput(records, applicationsConfig)
}
