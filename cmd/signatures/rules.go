package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goliatone/go-signatures/adapters/gologger"
	"github.com/goliatone/go-signatures/core"
	"github.com/goliatone/go-signatures/routing"
	"github.com/spf13/cobra"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage routing rules",
	}
	cmd.AddCommand(
		newRulesCheckCmd(),
		newRulesListCmd(root),
		newRulesSaveCmd(root),
		newRulesDeleteCmd(root),
		newRulesEvalCmd(root),
	)
	return cmd
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <condition>",
		Short: "Compile a rule condition without saving it",
		Long: `Compile a rule condition without saving it.

Conditions see amount, currency, merchant_id, order_id and metadata.

Examples:
  signatures rules check 'amount > 1000.0'
  signatures rules check "metadata['ip_country'] != 'ES'"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			compiler, err := routing.NewCompiler()
			if err != nil {
				return err
			}
			if err := compiler.Validate(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "condition compiles")
			return nil
		},
	}
}

// ruleSession is a rule manager bound to an open database.
type ruleSession struct {
	conn    *database
	manager *routing.RuleManager
	repo    core.RoutingRuleRepository
}

func openRuleSession(cmd *cobra.Command, root *rootOptions, db databaseOptions) (*ruleSession, error) {
	ctx := cmd.Context()
	logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logFormat)
	if err != nil {
		return nil, err
	}
	conn, err := connect(ctx, db)
	if err != nil {
		return nil, err
	}
	stores, err := conn.stores()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	repo := stores.RoutingRuleRepository()
	telemetry := gologger.NewTelemetry(gologger.DefaultLoggerName, nil, logger, nil)
	manager, err := routing.NewRuleManager(repo, nil, telemetry)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &ruleSession{conn: conn, manager: manager, repo: repo}, nil
}

func (s *ruleSession) Close() error {
	return s.conn.Close()
}

func newRulesListCmd(root *rootOptions) *cobra.Command {
	db := databaseOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := openRuleSession(cmd, root, db)
			if err != nil {
				return err
			}
			defer session.Close()
			rules, err := session.manager.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tID\tNAME\tCHANNEL\tPROVIDER\tCONDITION")
			for _, rule := range rules {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					rule.Priority, rule.ID, rule.Name, rule.TargetChannel, rule.ProviderOverride, rule.Condition)
			}
			return w.Flush()
		},
	}
	db.bind(cmd, true)
	return cmd
}

func newRulesSaveCmd(root *rootOptions) *cobra.Command {
	db := databaseOptions{}
	rule := core.RoutingRule{}
	var (
		channel  string
		provider string
		actor    string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a routing rule",
		Long: `Create or update a routing rule. Lower priorities are evaluated first.

Examples:
  signatures rules save --name high-value --condition 'amount > 1000.0' --channel VOICE --priority 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rule.TargetChannel = core.Channel(channel)
			rule.ProviderOverride = core.ProviderType(strings.TrimSpace(provider))
			rule.Enabled = !disabled

			session, err := openRuleSession(cmd, root, db)
			if err != nil {
				return err
			}
			defer session.Close()
			saved, err := session.manager.Save(cmd.Context(), rule, actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved rule %s (%s)\n", saved.ID, saved.Name)
			return nil
		},
	}
	db.bind(cmd, true)
	cmd.Flags().StringVar(&rule.ID, "id", "", "rule id to update; empty creates a new rule")
	cmd.Flags().StringVar(&rule.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&rule.Condition, "condition", "", "boolean condition over the transaction")
	cmd.Flags().StringVar(&channel, "channel", "", "target channel when the condition matches")
	cmd.Flags().StringVar(&provider, "provider", "", "provider type override")
	cmd.Flags().IntVar(&rule.Priority, "priority", 0, "evaluation order, lowest first")
	cmd.Flags().StringVar(&actor, "actor", envOr("USER", "cli"), "actor recorded on the rule")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the rule disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("condition")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newRulesDeleteCmd(root *rootOptions) *cobra.Command {
	db := databaseOptions{}
	var actor string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openRuleSession(cmd, root, db)
			if err != nil {
				return err
			}
			defer session.Close()
			if err := session.manager.Delete(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %s\n", args[0])
			return nil
		},
	}
	db.bind(cmd, true)
	cmd.Flags().StringVar(&actor, "actor", envOr("USER", "cli"), "actor recorded on the rule")
	return cmd
}

func newRulesEvalCmd(root *rootOptions) *cobra.Command {
	db := databaseOptions{}
	tx := core.TransactionContext{}
	var metadata map[string]string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Show which channel the stored rules pick for a transaction",
		Long: `Show which channel the stored rules pick for a transaction.

Examples:
  signatures rules eval --amount 1500 --currency EUR --meta ip_country=ES`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			session, err := openRuleSession(cmd, root, db)
			if err != nil {
				return err
			}
			defer session.Close()

			router, err := routing.NewEngine(session.repo, routing.WithDefaultChannel(cfg.Routing.DefaultChannel))
			if err != nil {
				return err
			}
			tx.Metadata = metadata
			decision, err := router.Evaluate(cmd.Context(), tx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if decision.UsedDefault {
				fmt.Fprintf(out, "channel %s (default, no rule matched)\n", decision.Channel)
				return nil
			}
			fmt.Fprintf(out, "channel %s via rule %s (%s)", decision.Channel, decision.RuleName, decision.RuleID)
			if decision.ProviderOverride != "" {
				fmt.Fprintf(out, " provider %s", decision.ProviderOverride)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	db.bind(cmd, true)
	cmd.Flags().Float64Var(&tx.Amount, "amount", 0, "transaction amount")
	cmd.Flags().StringVar(&tx.Currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVar(&tx.MerchantID, "merchant", "", "merchant id")
	cmd.Flags().StringVar(&tx.OrderID, "order", "", "order id")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "transaction metadata as key=value pairs")
	return cmd
}
