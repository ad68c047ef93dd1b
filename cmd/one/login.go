package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refinio/one-core/instance"
)

// loginCmd implements `one login --email --secret`. --name and --directory
// are accepted too (defaulting from ONE_INSTANCE_NAME/ONE_INSTANCE_DIRECTORY,
// see resolveNameDirectory) since OpenInstance needs both to locate the
// instance's database file, which the minimal flag set above leaves implicit.
func loginCmd() *cobra.Command {
	var name, email, secret, directory string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "authenticate against an existing instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("email", email); err != nil {
				return err
			}
			if err := requireFlag("secret", secret); err != nil {
				return err
			}
			resolvedName, resolvedDir := resolveNameDirectory(name, directory)
			if err := requireFlag("name", resolvedName); err != nil {
				return err
			}

			inst, err := instance.OpenInstance(instance.Config{
				Name:      resolvedName,
				Email:     email,
				Secret:    []byte(secret),
				Directory: resolvedDir,
			})
			if err != nil {
				return err
			}
			defer inst.CloseInstance()

			if err := writeSessionMarker(inst); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "login ok: %s\n", inst.IdHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "instance name (or ONE_INSTANCE_NAME)")
	cmd.Flags().StringVar(&email, "email", "", "owner email")
	cmd.Flags().StringVar(&secret, "secret", "", "storage password")
	cmd.Flags().StringVar(&directory, "directory", "", "instance storage directory (or ONE_INSTANCE_DIRECTORY)")
	return cmd
}
