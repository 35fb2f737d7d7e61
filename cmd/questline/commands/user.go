package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect a user's history",
	Long:  `Show a user's earned rewards and completion history.`,
}

var userRewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "List rewards earned by a user",
	RunE:  runUserRewards,
}

var userHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's completed tasks",
	RunE:  runUserHistory,
}

func init() {
	userRewardsCmd.Flags().Int64("user", 0, "User id")
	_ = userRewardsCmd.MarkFlagRequired("user")

	userHistoryCmd.Flags().Int64("user", 0, "User id")
	_ = userHistoryCmd.MarkFlagRequired("user")

	userCmd.AddCommand(userRewardsCmd)
	userCmd.AddCommand(userHistoryCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserRewards(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rewards, err := st.UserRewards(userID)
	if err != nil {
		return err
	}
	if len(rewards) == 0 {
		fmt.Println("no rewards")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tKIND\tVALUE\tAWARDED")
	for _, r := range rewards {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.TaskID, r.RewardKind, r.RewardValue, r.AwardedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runUserHistory(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	completions, err := st.UserCompletions(userID)
	if err != nil {
		return err
	}
	if len(completions) == 0 {
		fmt.Println("no completions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTYPE\tCOMPLETED\tFLAGS")
	for _, c := range completions {
		var flags []string
		if c.Late {
			flags = append(flags, "late")
		}
		if c.VerifiedBy.Valid {
			flags = append(flags, fmt.Sprintf("verified-by=%d", c.VerifiedBy.Int64))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.TaskID, c.TypeKey, c.CompletedAt.Format(time.RFC3339), strings.Join(flags, ","))
	}
	return w.Flush()
}
