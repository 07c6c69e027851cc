package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gbionescu/reddit-moderator-bot/internal/config"
	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
)

type storageOptions struct {
	*RootOptions
	Root   string
	Config string
}

// NewStorageCommand returns the storage command group.
func NewStorageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &storageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect plugin storage",
		Long: `Inspect the JSON documents plugins keep under the storage root.

Documents are addressed by scope and name, e.g. a subreddit and a plugin
name, or "all" and "last_seen" for the feeder state.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Root, "root", config.Default().Storage.Root, "storage root")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "read the storage root from a configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list [scope]",
		Short: "List scopes, or the documents of a scope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStorageList(opts, cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <scope> <name>",
		Short: "Print a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStorageShow(opts, cmd, args[0], args[1])
		},
	})
	return cmd
}

func (o *storageOptions) open() (*docstore.Store, error) {
	root := o.Root
	if o.Config != "" {
		cfg, err := config.Load(o.Config, false)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		root = cfg.Storage.Root
	}
	st, err := docstore.Open(root, nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	return st, nil
}

func runStorageList(opts *storageOptions, cmd *cobra.Command, args []string) error {
	out := newOutput(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	st, err := opts.open()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		scopes, err := st.Scopes()
		if err != nil {
			_ = out.Error(ErrCodeStorage, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to list scopes", err)
		}
		return out.Success(scopes, strings.Join(scopes, "\n"))
	}

	names, err := st.Names(args[0])
	if err != nil {
		_ = out.Error(ErrCodeStorage, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list documents", err)
	}
	return out.Success(names, strings.Join(names, "\n"))
}

func runStorageShow(opts *storageOptions, cmd *cobra.Command, scope, name string) error {
	out := newOutput(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	st, err := opts.open()
	if err != nil {
		return err
	}

	names, err := st.Names(scope)
	if err != nil || !slices.Contains(names, name) {
		msg := fmt.Sprintf("no document %s/%s under %s", scope, name, st.Root())
		_ = out.Error(ErrCodeStorage, msg, nil)
		return NewExitError(ExitFailure, msg)
	}
	doc, err := st.Document(scope, name)
	if err != nil {
		_ = out.Error(ErrCodeStorage, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open document", err)
	}

	snap := doc.Snapshot()
	text, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode document", err)
	}
	return out.Success(snap, string(text))
}
