package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gbionescu/reddit-moderator-bot/internal/config"
)

// ValidateResult is the JSON payload of validate.
type ValidateResult struct {
	Valid   bool                     `json:"valid"`
	Errors  []config.ValidationError `json:"errors,omitempty"`
	Summary *ConfigSummary           `json:"summary,omitempty"`
}

// ConfigSummary lists the settings a reader usually wants to double-check.
type ConfigSummary struct {
	Owner         string   `json:"owner"`
	Master        string   `json:"master_subreddit"`
	CommandPrefix string   `json:"command_prefix"`
	PluginFolders []string `json:"plugin_folders"`
	StorageRoot   string   `json:"storage_root"`
	Database      string   `json:"database,omitempty"`
	Console       string   `json:"console,omitempty"`
}

type validateOptions struct {
	*RootOptions
	Config string
	Live   bool
}

// NewValidateCommand returns the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &validateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Long: `Parse a configuration file and check it against the configuration schema.

With --live the reddit credentials are required as well.

Example:
  modbot validate --config bot.ini
  modbot validate --config bot.yaml --live --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "configuration file (required)")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "require reddit credentials")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runValidate(opts *validateOptions, cmd *cobra.Command) error {
	out := newOutput(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	out.Logf("validating %s", opts.Config)

	cfg, err := config.Load(opts.Config, opts.Live)
	if err != nil {
		errs, ok := config.AsErrors(err)
		if !ok {
			errs = config.Errors{{Code: config.ErrCodeInternal, Message: err.Error()}}
		}
		if out.Format == "json" {
			_ = out.Success(ValidateResult{Valid: false, Errors: errs}, "")
		} else {
			for _, e := range errs {
				msg := e.Message
				if e.Field != "" {
					msg = e.Field + ": " + msg
				}
				_ = out.Error(e.Code, msg, nil)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d configuration error(s)", len(errs)))
	}

	summary := &ConfigSummary{
		Owner:         cfg.Owner.Name,
		Master:        cfg.Bot.MasterSubreddit,
		CommandPrefix: cfg.Bot.CommandPrefix,
		PluginFolders: cfg.Bot.PluginFolders,
		StorageRoot:   cfg.Storage.Root,
		Database:      cfg.Database.Path,
	}
	if cfg.Console.Enabled {
		summary.Console = cfg.Console.Addr
	}
	return out.Success(ValidateResult{Valid: true, Summary: summary}, fmt.Sprintf("%s is valid", opts.Config))
}
