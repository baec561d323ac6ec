package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCommand(opts *rootOptions) *cobra.Command {
	backup := &cobra.Command{
		Use:   "backup",
		Short: "Manage store backups",
	}

	var reason string
	create := &cobra.Command{
		Use:   "create",
		Short: "Write a timestamped backup of the progress document",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(opts, cmd)
			if err != nil {
				return err
			}
			name, err := app.store.CreateBackup(cmd.Context(), reason)
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		},
	}
	create.Flags().StringVar(&reason, "reason", "manual", "why the backup was taken")

	list := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(opts, cmd)
			if err != nil {
				return err
			}
			backups, err := app.store.ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Println("no backups yet")
				return nil
			}
			for _, b := range backups {
				fmt.Printf("%s\t%d bytes\t%s\n", b.Name, b.Size, b.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore <name>",
		Short: "Replace the progress document with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(opts, cmd)
			if err != nil {
				return err
			}
			if err := app.store.RestoreBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("restored %s\n", args[0])
			return nil
		},
	}

	backup.AddCommand(create, list, restore)
	return backup
}

func buildApp(opts *rootOptions, cmd *cobra.Command) (*application, error) {
	cfg, _, err := opts.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApplication(cfg)
}
