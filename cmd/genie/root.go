package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"genie/internal/config"
)

// rootOptions carries flag state shared by every subcommand.
type rootOptions struct {
	viper      *viper.Viper
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{viper: viper.New()}

	root := &cobra.Command{
		Use:   "genie",
		Short: "A personal task assistant that turns plain requests into planned, scheduled work",
		Long: "Genie takes plain-language requests, breaks them into small steps,\n" +
			"picks the step that fits your day, and books it on your calendar.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $HOME/.genie/config.yaml)")
	flags.String("storage-path", "", "progress document path")
	flags.String("backup-dir", "", "backup directory")
	flags.String("llm-provider", "", "llm provider (openai|mock)")
	flags.String("llm-model", "", "llm model name")
	flags.String("host", "", "server listen host")
	flags.Int("port", 0, "server listen port")
	flags.Bool("metrics", false, "expose the /metrics endpoint")
	flags.String("log-level", "", "log level (debug|info|warn|error)")

	v := opts.viper
	v.SetEnvPrefix("GENIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for viperKey, flagName := range map[string]string{
		"storage.path":   "storage-path",
		"storage.backup": "backup-dir",
		"llm.provider":   "llm-provider",
		"llm.model":      "llm-model",
		"server.host":    "host",
		"server.port":    "port",
		"metrics":        "metrics",
		"log.level":      "log-level",
	} {
		_ = v.BindPFlag(viperKey, flags.Lookup(flagName))
	}

	root.AddCommand(
		newServeCommand(opts),
		newChatCommand(opts),
		newBackupCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newVersionCommand(),
	)
	return root
}

// loadConfig merges defaults, the config file, the environment, and any
// flags the user set.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, config.Metadata, error) {
	overrides := config.Overrides{}
	v := o.viper

	if cmd.Flags().Changed("storage-path") || v.IsSet("storage.path") {
		value := v.GetString("storage.path")
		overrides.StoragePath = &value
	}
	if cmd.Flags().Changed("backup-dir") {
		value := v.GetString("storage.backup")
		overrides.BackupDir = &value
	}
	if cmd.Flags().Changed("llm-provider") {
		value := v.GetString("llm.provider")
		overrides.LLMProvider = &value
	}
	if cmd.Flags().Changed("llm-model") {
		value := v.GetString("llm.model")
		overrides.LLMModel = &value
	}
	if cmd.Flags().Changed("host") {
		value := v.GetString("server.host")
		overrides.ServerHost = &value
	}
	if cmd.Flags().Changed("port") {
		value := v.GetInt("server.port")
		overrides.ServerPort = &value
	}
	if cmd.Flags().Changed("metrics") {
		value := v.GetBool("metrics")
		overrides.MetricsEnabled = &value
	}
	if cmd.Flags().Changed("log-level") {
		value := v.GetString("log.level")
		overrides.LogLevel = &value
	}

	loadOpts := []config.Option{config.WithOverrides(overrides)}
	if o.configPath != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(o.configPath))
	}
	return config.Load(loadOpts...)
}
