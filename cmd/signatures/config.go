package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-signatures/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// yamlFileLoader reads the raw engine configuration from a YAML file. A
// missing path yields an empty map so defaults apply.
type yamlFileLoader struct {
	path string
}

func (l yamlFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

func (o *rootOptions) configProvider() core.ConfigProvider {
	return core.NewCfgxConfigProvider(yamlFileLoader{path: o.configPath})
}

func (o *rootOptions) resolveConfig(ctx context.Context) (core.Config, error) {
	return core.ResolveConfig(ctx, core.Config{}, core.WithConfigProvider(o.configProvider()))
}

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect engine configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the resolved configuration (defaults, file, then runtime)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := root.resolveConfig(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	})
	return cmd
}
