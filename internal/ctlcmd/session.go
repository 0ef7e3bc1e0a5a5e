package ctlcmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Start a session's repair loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		if err := postJSON("/api/sessions/"+args[0]+"/start", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("session %s: %s\n", args[0], resp["status"])
		return nil
	},
}

var sessionPauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		if err := postJSON("/api/sessions/"+args[0]+"/pause", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("session %s: %s\n", args[0], resp["status"])
		return nil
	},
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]string
		if err := postJSON("/api/sessions/"+args[0]+"/stop", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("session %s: %s\n", args[0], resp["status"])
		return nil
	},
}

var sessionOneBatchCmd = &cobra.Command{
	Use:   "one-batch <session-id>",
	Short: "Run exactly one iteration of a session's loop synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]map[string]int
		if err := postJSON("/api/sessions/"+args[0]+"/one-batch", nil, &resp); err != nil {
			return err
		}
		fmt.Printf("session %s plan: %v\n", args[0], resp["plan"])
		return nil
	},
}

type createProjectRequest struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Mode   string         `json:"mode"`
	Config map[string]any `json:"config"`
}

var (
	projectName string
	projectMode string
)

var projectCreateCmd = &cobra.Command{
	Use:   "create-project <project-id>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := createProjectRequest{ID: args[0], Name: projectName, Mode: projectMode}
		var resp map[string]string
		if err := postJSON("/api/projects", req, &resp); err != nil {
			return err
		}
		fmt.Printf("project %s created\n", resp["id"])
		return nil
	},
}

type createSessionRequest struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	SlaveIDs  []string `json:"slaveIds"`
	Strategy  string   `json:"strategy"`
}

var (
	sessionProjectID string
	sessionSlaveIDs  []string
	sessionStrategy  string
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create-session <session-id>",
	Short: "Create a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := createSessionRequest{
			ID:        args[0],
			ProjectID: sessionProjectID,
			SlaveIDs:  sessionSlaveIDs,
			Strategy:  sessionStrategy,
		}
		var resp map[string]string
		if err := postJSON("/api/sessions", req, &resp); err != nil {
			return err
		}
		fmt.Printf("session %s created\n", resp["id"])
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectCreateCmd.Flags().StringVar(&projectMode, "mode", "guard", "project mode (image|guard)")

	sessionCreateCmd.Flags().StringVar(&sessionProjectID, "project", "", "owning project id")
	sessionCreateCmd.Flags().StringSliceVar(&sessionSlaveIDs, "slaves", nil, "comma-separated worker ids assigned to this session")
	sessionCreateCmd.Flags().StringVar(&sessionStrategy, "strategy", "greedy", "charge distribution strategy (greedy|round_robin|balanced)")

	rootCmd.AddCommand(projectCreateCmd, sessionCreateCmd, sessionStartCmd, sessionPauseCmd, sessionStopCmd, sessionOneBatchCmd)
}
