package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/memoir/pkg/branch"
	"github.com/go-go-golems/memoir/pkg/config"
	"github.com/go-go-golems/memoir/pkg/conversation"
	"github.com/go-go-golems/memoir/pkg/store"
)

// RegisterBranchCommands adds branch inspection and lifecycle commands.
func RegisterBranchCommands(rootCmd *cobra.Command, loadSettings SettingsLoader) {
	branchesCmd := &cobra.Command{
		Use:   "branches",
		Short: "Inspect and manage conversation branches",
	}

	var includeArchived bool
	listCmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the session's branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, sessionID, err := buildManager(loadSettings, args[0])
			if err != nil {
				return err
			}

			branches, err := manager.GetBranches(cmd.Context(), sessionID, includeArchived)
			if err != nil {
				return err
			}
			if len(branches) == 0 {
				fmt.Println("no branches")
				return nil
			}
			for _, b := range branches {
				status := ""
				if b.IsActive {
					status += " [active]"
				}
				if b.IsArchived {
					status += " [archived]"
				}
				fmt.Printf("%s  %s  depth=%d%s\n", b.ID, b.Name, b.Depth, status)
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived branches")

	var branchName string
	createCmd := &cobra.Command{
		Use:   "create <session-id> <origin-message-id>",
		Short: "Fork a new branch off an existing message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, sessionID, err := buildManager(loadSettings, args[0])
			if err != nil {
				return err
			}
			originID, err := conversation.ParseMessageID(args[1])
			if err != nil {
				return errors.Wrap(err, "invalid origin message id")
			}

			b, err := manager.CreateBranch(cmd.Context(), sessionID, originID, branch.CreateOptions{Name: branchName})
			if err != nil {
				return err
			}
			fmt.Printf("created branch %s (%s)\n", b.ID, b.Name)
			return nil
		},
	}
	createCmd.Flags().StringVar(&branchName, "name", "", "branch name (generated when omitted)")

	switchCmd := &cobra.Command{
		Use:   "switch <session-id> <branch-id>",
		Short: "Make a branch the session's active timeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, sessionID, err := buildManager(loadSettings, args[0])
			if err != nil {
				return err
			}
			branchID, err := conversation.ParseBranchID(args[1])
			if err != nil {
				return errors.Wrap(err, "invalid branch id")
			}

			b, err := manager.SwitchBranch(cmd.Context(), sessionID, branchID)
			if err != nil {
				return err
			}
			fmt.Printf("switched to branch %s (%s)\n", b.ID, b.Name)
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the session's branch operation log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, sessionID, err := buildManager(loadSettings, args[0])
			if err != nil {
				return err
			}

			entries, err := manager.GetBranchHistory(cmd.Context(), sessionID, store.Page{})
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-8s  %s  %s\n", e.Time.Format("2006-01-02 15:04:05"), e.Action, e.BranchID, e.Details)
			}
			return nil
		},
	}

	branchesCmd.AddCommand(listCmd, createCmd, switchCmd, historyCmd)
	rootCmd.AddCommand(branchesCmd)
}

func buildManager(loadSettings SettingsLoader, sessionArg string) (*branch.Manager, conversation.SessionID, error) {
	var sessionID conversation.SessionID

	settings, err := loadSettings()
	if err != nil {
		return nil, sessionID, err
	}
	sessionID, err = conversation.ParseSessionID(sessionArg)
	if err != nil {
		return nil, sessionID, errors.Wrap(err, "invalid session id")
	}

	sessionStore, err := config.NewSessionStore(settings)
	if err != nil {
		return nil, sessionID, err
	}
	return branch.NewManager(sessionStore), sessionID, nil
}
