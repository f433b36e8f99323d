package cli

import (
	"fmt"
	"strconv"

	"resumetailor/internal/store"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update the status of a recorded application",
	Long: `Update the mutable fields of an application record: whether you
applied, the job posting link, free-form notes and the company name. Only the
flags you pass are changed; everything else is left as it was.`,
	Args: cobra.ExactArgs(1),
	RunE: runApplicationsUpdate,
}

var (
	updateApplied bool
	updateJobLink string
	updateNotes   string
	updateCompany string
)

func init() {
	updateCmd.Flags().BoolVar(&updateApplied, "applied", false, "Mark the application as applied (--applied=false clears it)")
	updateCmd.Flags().StringVar(&updateJobLink, "job-link", "", "Link to the job posting")
	updateCmd.Flags().StringVar(&updateNotes, "notes", "", "Free-form notes")
	updateCmd.Flags().StringVar(&updateCompany, "company", "", "Company name")
}

func runApplicationsUpdate(cmd *cobra.Command, args []string) error {
	cfg := getConfigFromContext(cmd.Context())
	logger := getLoggerFromContext(cmd.Context())

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid application id %q", args[0])
	}

	var update store.StatusUpdate
	if cmd.Flags().Changed("applied") {
		update.Applied = &updateApplied
	}
	if cmd.Flags().Changed("job-link") {
		update.JobLink = &updateJobLink
	}
	if cmd.Flags().Changed("notes") {
		update.Notes = &updateNotes
	}
	if cmd.Flags().Changed("company") {
		update.Company = &updateCompany
	}
	if update.Applied == nil && update.JobLink == nil && update.Notes == nil && update.Company == nil {
		return fmt.Errorf("nothing to update: pass at least one of --applied, --job-link, --notes, --company")
	}

	record, err := store.New(cfg.StorePath()).UpdateStatus(id, update)
	if err != nil {
		return err
	}

	logger.Info("application updated",
		"id", record.ID,
		"applied", record.Applied)
	fmt.Printf("Updated application %d (%s)\n", record.ID, record.JobTitle)
	return nil
}
