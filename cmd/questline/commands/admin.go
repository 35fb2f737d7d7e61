package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative operations",
	Long:  `Review evidence submissions, verify tasks manually, and reset daily counters.`,
}

var adminReviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List pending reviews",
	RunE:  runAdminReviews,
}

var adminApproveCmd = &cobra.Command{
	Use:   "approve <review-id>",
	Short: "Approve a pending review",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminApprove,
}

var adminRejectCmd = &cobra.Command{
	Use:   "reject <review-id>",
	Short: "Reject a pending review",
	Long: `Reject a pending review. The task instance goes back to active so the
user can resubmit, unless its deadline has already passed.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdminReject,
}

var adminVerifyCmd = &cobra.Command{
	Use:   "verify <task-id>",
	Short: "Verify a task manually",
	Long:  `Verify a task instance directly, bypassing its completion conditions.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAdminVerify,
}

var adminResetDailyCmd = &cobra.Command{
	Use:   "reset-daily",
	Short: "Reset daily assignment counters",
	RunE:  runAdminResetDaily,
}

func init() {
	adminApproveCmd.Flags().Int64("admin", 0, "Reviewing admin id")
	_ = adminApproveCmd.MarkFlagRequired("admin")

	adminRejectCmd.Flags().Int64("admin", 0, "Reviewing admin id")
	adminRejectCmd.Flags().String("reason", "", "Rejection reason shown to the user")
	_ = adminRejectCmd.MarkFlagRequired("admin")

	adminVerifyCmd.Flags().Int64("user", 0, "Owning user id")
	adminVerifyCmd.Flags().Int64("admin", 0, "Verifying admin id")
	_ = adminVerifyCmd.MarkFlagRequired("user")
	_ = adminVerifyCmd.MarkFlagRequired("admin")

	adminCmd.AddCommand(adminReviewsCmd)
	adminCmd.AddCommand(adminApproveCmd)
	adminCmd.AddCommand(adminRejectCmd)
	adminCmd.AddCommand(adminVerifyCmd)
	adminCmd.AddCommand(adminResetDailyCmd)
	rootCmd.AddCommand(adminCmd)
}

func runAdminReviews(cmd *cobra.Command, args []string) error {
	eng, closeStore, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	reviews, err := eng.PendingReviews()
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		fmt.Println("no pending reviews")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REVIEW\tUSER\tTASK\tSUBMITTED\tEVIDENCE")
	for _, rev := range reviews {
		evidence := rev.Evidence
		if len(evidence) > 40 {
			evidence = evidence[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			rev.ReviewID, rev.UserID, rev.TaskID,
			rev.SubmittedAt.Format(time.RFC3339), evidence)
	}
	return w.Flush()
}

func runAdminApprove(cmd *cobra.Command, args []string) error {
	adminID, _ := cmd.Flags().GetInt64("admin")

	eng, closeStore, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := eng.AdminReview(args[0], true, "", adminID); err != nil {
		return err
	}
	fmt.Printf("approved review %s\n", args[0])
	return nil
}

func runAdminReject(cmd *cobra.Command, args []string) error {
	adminID, _ := cmd.Flags().GetInt64("admin")
	reason, _ := cmd.Flags().GetString("reason")

	eng, closeStore, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := eng.AdminReview(args[0], false, reason, adminID); err != nil {
		return err
	}
	fmt.Printf("rejected review %s\n", args[0])
	return nil
}

func runAdminVerify(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")
	adminID, _ := cmd.Flags().GetInt64("admin")

	eng, closeStore, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := eng.ManuallyVerify(userID, args[0], adminID); err != nil {
		return err
	}
	fmt.Printf("verified task %s for user %d\n", args[0], userID)
	return nil
}

func runAdminResetDaily(cmd *cobra.Command, args []string) error {
	eng, closeStore, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := eng.ResetDailyLimits()
	if err != nil {
		return err
	}
	fmt.Printf("reset %d daily counters\n", n)
	return nil
}
