package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refinio/one-core/instance"
)

func initCmd() *cobra.Command {
	var name, email, secret, ownerName, directory string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "bootstrap a new instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range []struct{ name, value string }{
				{"name", name}, {"email", email}, {"secret", secret},
			} {
				if err := requireFlag(f.name, f.value); err != nil {
					return err
				}
			}
			inst, err := instance.InitInstance(instance.Config{
				Name:      name,
				Email:     email,
				Secret:    []byte(secret),
				OwnerName: ownerName,
				Directory: directory,
			})
			if err != nil {
				return err
			}
			defer inst.CloseInstance()
			fmt.Fprintf(cmd.OutOrStdout(), "initialized instance %s\n", inst.IdHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "instance name")
	cmd.Flags().StringVar(&email, "email", "", "owner email")
	cmd.Flags().StringVar(&secret, "secret", "", "storage password")
	cmd.Flags().StringVar(&ownerName, "owner-name", "", "owner display name")
	cmd.Flags().StringVar(&directory, "directory", ".", "instance storage directory")
	return cmd
}
