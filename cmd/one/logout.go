package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refinio/one-core/instance"
)

// logoutCmd implements `one logout`, whose --name/--email/--directory flags
// fall back to ONE_INSTANCE_* environment variables. It
// clears the session marker `login` wrote, erroring NotFound if there was
// never a successful login to undo.
func logoutCmd() *cobra.Command {
	var name, email, directory string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "end the current login session",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolvedName, resolvedDir := resolveNameDirectory(name, directory)
			resolvedEmail := resolveEmail(email)
			if err := requireFlag("name", resolvedName); err != nil {
				return err
			}
			if err := requireFlag("email", resolvedEmail); err != nil {
				return err
			}
			idHash := instance.IdHashFor(resolvedName, resolvedEmail)
			if err := removeSessionMarker(resolvedDir, idHash); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logout ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "instance name (or ONE_INSTANCE_NAME)")
	cmd.Flags().StringVar(&email, "email", "", "owner email (or ONE_INSTANCE_EMAIL)")
	cmd.Flags().StringVar(&directory, "directory", "", "instance storage directory (or ONE_INSTANCE_DIRECTORY)")
	return cmd
}
