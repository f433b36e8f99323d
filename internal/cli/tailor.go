package cli

import (
	"fmt"
	"os"
	"strings"

	"resumetailor/internal/ai"
	"resumetailor/internal/common"
	"resumetailor/internal/latex"
	"resumetailor/internal/ledger"
	"resumetailor/internal/pipeline"
	"resumetailor/internal/review"
	"resumetailor/internal/store"
	"resumetailor/internal/types"
	"resumetailor/internal/utils"

	"github.com/spf13/cobra"
)

var tailorCmd = &cobra.Command{
	Use:   "tailor [resume-file]",
	Short: "Tailor a LaTeX resume for a specific job description",
	Long: `Tailor your LaTeX resume for a specific job description using AI.
The command takes the path to your base .tex resume as its argument; the job
description comes from either --job-file or --job-description. Each proposed
change is shown for interactive review (pass --yes to accept everything), the
tailored source is validated by compiling it, and a successful run is recorded
in the application history.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfigFromContext(cmd.Context())
		if tailorJobFile == "" && tailorJobText == "" {
			return fmt.Errorf("a job description is required: pass --job-file or --job-description")
		}
		if tailorJobFile != "" && tailorJobText != "" {
			return fmt.Errorf("--job-file and --job-description are mutually exclusive")
		}
		// Apply default format if not specified
		if tailorConfig.OutputFormat == "" {
			tailorConfig.OutputFormat = cfg.App.DefaultFormat
		}
		// Validate format against supported formats
		return common.ValidateOutputFormat(tailorConfig.OutputFormat, cfg.App.SupportedFormats)
	},
	RunE: runTailor,
}

var (
	tailorConfig    common.CommandConfig
	tailorJobFile   string
	tailorJobText   string
	tailorJobTitle  string
	tailorCompany   string
	tailorAcceptAll bool
	tailorOutputDir string
)

func init() {
	tailorCmd.Flags().StringVar(&tailorJobFile, "job-file", "", "Path to a file containing the job description")
	tailorCmd.Flags().StringVar(&tailorJobText, "job-description", "", "Job description text (alternative to --job-file)")
	tailorCmd.Flags().StringVar(&tailorJobTitle, "job-title", "", "Job title, used in output filenames and history")
	tailorCmd.Flags().StringVar(&tailorCompany, "company", "", "Company name for the history record")
	tailorCmd.Flags().BoolVar(&tailorAcceptAll, "yes", false, "Accept every proposed change without interactive review")
	tailorCmd.Flags().StringVar(&tailorOutputDir, "output-dir", "", "Directory for tailored artifacts (overrides config)")
	tailorCmd.Flags().StringVarP(&tailorConfig.OutputFile, "output", "o", "", "Report output file path (default: stdout)")
	tailorCmd.Flags().StringVar(&tailorConfig.OutputFormat, "format", "", "Report output format: json, text, or markdown")

	// Add completion for format flag
	_ = tailorCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg := getConfigFromContext(cmd.Context())
		return common.GetSupportedFormats(cfg.App.SupportedFormats), cobra.ShellCompDirectiveNoFileComp
	})
}

func runTailor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	fileProcessor := common.NewFileProcessorWithLimit(logger, cfg.App.MaxFileSize)

	resumeSource, err := fileProcessor.ReadFile(args[0])
	if err != nil {
		return err
	}

	jobText := tailorJobText
	if tailorJobFile != "" {
		jobText, err = fileProcessor.ReadFile(tailorJobFile)
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(jobText) == "" {
		return fmt.Errorf("job description is empty")
	}

	aiService, err := ai.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create AI service: %w", err)
	}
	defer func() { _ = aiService.Close() }()

	outputDir := cfg.Output.Dir
	if tailorOutputDir != "" {
		outputDir = tailorOutputDir
	}

	p := pipeline.New(
		aiService.Analyze(),
		aiService.Customize(),
		latex.NewCompiler(cfg.Compiler.Command, cfg.Compiler.Timeout, logger),
		store.New(cfg.StorePath()),
		ledger.New(cfg.LedgerPath(), cfg.Ledger.InputRate, cfg.Ledger.OutputRate),
		logger,
		pipeline.Options{
			OutputDir:     outputDir,
			KeepFailedDir: cfg.Compiler.KeepFailedDir,
		},
	)

	var reviewer review.Reviewer = review.TerminalReviewer{Out: os.Stdout}
	if tailorAcceptAll {
		reviewer = review.AcceptAll{}
	}

	result, runErr := p.Run(ctx, pipeline.RunInput{
		Job: types.JobDescription{
			Text:    jobText,
			Title:   tailorJobTitle,
			Company: tailorCompany,
		},
		ResumeSource:   resumeSource,
		ResumeBaseName: utils.BaseNameWithoutExt(args[0]),
		Reviewer:       reviewer,
	})
	if result != nil {
		report := result.Report()
		outputHandler := common.NewOutputHandler(logger)
		if outErr := outputHandler.HandleOutput(report, tailorConfig); outErr != nil {
			return outErr
		}
	}
	return runErr
}
