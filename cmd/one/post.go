package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/refinio/one-core/channel"
	"github.com/refinio/one-core/hashing"
	"github.com/refinio/one-core/instance"
	"github.com/refinio/one-core/store"
)

// postCmd implements `one post --channel --owner --payload <file>` (spec
// §6): reads JSON from file, stores it as the posted record's addressed
// content, and posts its hash onto the named channel.
func postCmd() *cobra.Command {
	var channelId, owner, payloadPath, name, email, secret, directory string

	cmd := &cobra.Command{
		Use:   "post",
		Short: "post a payload onto a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range []struct{ name, value string }{
				{"channel", channelId}, {"payload", payloadPath}, {"secret", secret},
			} {
				if err := requireFlag(f.name, f.value); err != nil {
					return err
				}
			}
			resolvedName, resolvedDir := resolveNameDirectory(name, directory)
			resolvedEmail := resolveEmail(email)
			if err := requireFlag("name", resolvedName); err != nil {
				return err
			}
			if err := requireFlag("email", resolvedEmail); err != nil {
				return err
			}

			data, err := os.ReadFile(payloadPath)
			if err != nil {
				return err
			}

			inst, err := instance.OpenInstance(instance.Config{
				Name:      resolvedName,
				Email:     resolvedEmail,
				Secret:    []byte(secret),
				Directory: resolvedDir,
			})
			if err != nil {
				return err
			}
			defer inst.CloseInstance()

			payloadHash := hashing.Of(data)
			if _, err := inst.Store.WriteUnique(store.NSClob, payloadHash.String(), data); err != nil {
				return err
			}

			entry, err := inst.Channels.Post(channelId, channel.PersonId(owner), payloadHash, time.Now().Unix(), channel.PostOptions{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %s to %s at %d\n", entry.PayloadHash, channelId, entry.CreationTime)
			return nil
		},
	}

	cmd.Flags().StringVar(&channelId, "channel", "", "channel id")
	cmd.Flags().StringVar(&owner, "owner", "", "channel owner person id")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "path to a JSON file to post")
	cmd.Flags().StringVar(&name, "name", "", "instance name (or ONE_INSTANCE_NAME)")
	cmd.Flags().StringVar(&email, "email", "", "owner email (or ONE_INSTANCE_EMAIL)")
	cmd.Flags().StringVar(&secret, "secret", "", "storage password")
	cmd.Flags().StringVar(&directory, "directory", "", "instance storage directory (or ONE_INSTANCE_DIRECTORY)")
	return cmd
}
