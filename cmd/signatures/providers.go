package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-signatures/core"
	"github.com/spf13/cobra"
)

func newProvidersCmd(_ *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage persisted provider configurations",
	}
	cmd.AddCommand(newProvidersAddCmd(), newProvidersListCmd())
	return cmd
}

type providerFlags struct {
	db          databaseOptions
	kind        string
	code        string
	channel     string
	priority    int
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	credential  string
	disabled    bool
}

func newProvidersAddCmd() *cobra.Command {
	flags := providerFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a provider configuration",
		Long: `Create or update a provider configuration keyed by type.

Examples:
  signatures providers add --type sandbox-sms --channel SMS --priority 1
  signatures providers add --type sandbox-voice --channel VOICE --timeout 8s --max-attempts 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel, err := core.ParseChannel(flags.channel)
			if err != nil {
				return err
			}
			cfg := core.ProviderConfig{
				Type:     core.ProviderType(flags.kind),
				Code:     flags.code,
				Channel:  channel,
				Enabled:  !flags.disabled,
				Priority: flags.priority,
				Timeout:  flags.timeout,
				Retry: core.RetryPolicy{
					MaxAttempts:    flags.maxAttempts,
					InitialBackoff: flags.backoff,
					MaxBackoff:     flags.maxBackoff,
				},
				CredentialRef: flags.credential,
			}
			if cfg.Code == "" {
				cfg.Code = string(cfg.Type)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			conn, err := connect(cmd.Context(), flags.db)
			if err != nil {
				return err
			}
			defer conn.Close()
			stores, err := conn.stores()
			if err != nil {
				return err
			}
			saved, err := stores.ProviderConfigStore().SaveProviderConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved provider %s (%s) on %s\n", saved.Type, saved.ID, saved.Channel)
			return nil
		},
	}
	flags.db.bind(cmd, true)
	cmd.Flags().StringVar(&flags.kind, "type", "", "provider type, e.g. sandbox-sms")
	cmd.Flags().StringVar(&flags.code, "code", "", "provider code (defaults to the type)")
	cmd.Flags().StringVar(&flags.channel, "channel", "", "channel: SMS, VOICE, PUSH or BIOMETRIC")
	cmd.Flags().IntVar(&flags.priority, "priority", 0, "lower values are tried first within a channel")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-call timeout (0 uses the channel default)")
	cmd.Flags().IntVar(&flags.maxAttempts, "max-attempts", 1, "attempts per dispatch including the first")
	cmd.Flags().DurationVar(&flags.backoff, "initial-backoff", 200*time.Millisecond, "first retry delay")
	cmd.Flags().DurationVar(&flags.maxBackoff, "max-backoff", 2*time.Second, "retry delay ceiling")
	cmd.Flags().StringVar(&flags.credential, "credential-ref", "", "reference to the provider credentials")
	cmd.Flags().BoolVar(&flags.disabled, "disabled", false, "store the provider disabled")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	db := databaseOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List provider configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := connect(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer conn.Close()
			stores, err := conn.stores()
			if err != nil {
				return err
			}
			configs, err := stores.ProviderConfigStore().ListProviderConfigs(cmd.Context())
			if err != nil {
				return err
			}
			sort.SliceStable(configs, func(i, j int) bool {
				if configs[i].Channel != configs[j].Channel {
					return configs[i].Channel < configs[j].Channel
				}
				return configs[i].Priority < configs[j].Priority
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tCHANNEL\tPRIORITY\tENABLED\tTIMEOUT\tATTEMPTS")
			for _, cfg := range configs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
					cfg.Type, cfg.Channel, cfg.Priority, strconv.FormatBool(cfg.Enabled), cfg.Timeout, cfg.Retry.MaxAttempts)
			}
			return w.Flush()
		},
	}
	db.bind(cmd, true)
	return cmd
}
