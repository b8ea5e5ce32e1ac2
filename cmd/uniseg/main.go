// Package main provides the uniseg CLI: checkpoint inspection and hub
// downloads for the universal-segmentation model library.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/uniseg-ml/uniseg/internal/hub"
	"github.com/uniseg-ml/uniseg/internal/loader"
)

const version = "v0.1.0-dev"

// cliConfig is the optional YAML configuration file.
type cliConfig struct {
	HubBase  string `yaml:"hub_base"`
	CacheDir string `yaml:"cache_dir"`
	Verbose  bool   `yaml:"verbose"`
}

func loadCLIConfig(path string) (*cliConfig, error) {
	cfg := &cliConfig{}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = home + "/.uniseg.yaml"
		if _, err := os.Stat(path); err != nil {
			return cfg, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:   "uniseg",
		Short: "Universal segmentation models for Go",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("uniseg %s\n", version)
			},
		},
		newInfoCommand(),
		newFetchCommand(&configPath, &verbose),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newInfoCommand inspects a local SafeTensors checkpoint.
func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <checkpoint.safetensors>",
		Short: "List tensors in a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := loader.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			for k, v := range r.Metadata() {
				fmt.Printf("# %s: %s\n", k, v)
			}
			for _, name := range r.TensorNames() {
				info, err := r.Info(name)
				if err != nil {
					return err
				}
				fmt.Printf("%-60s %-5s %v\n", name, info.DType, info.Shape)
			}
			return nil
		},
	}
}

// newFetchCommand downloads checkpoint files from the hub.
func newFetchCommand(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <repo>",
		Short: "Download a model checkpoint from the hub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(*configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(*verbose || cfg.Verbose)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			opts := []hub.Option{hub.WithLogger(log)}
			if cfg.HubBase != "" {
				opts = append(opts, hub.WithBaseURL(cfg.HubBase))
			}
			client, err := hub.New(cfg.CacheDir, opts...)
			if err != nil {
				return err
			}
			paths, err := client.ResolveAll(cmd.Context(), args[0],
				[]string{"config.json", "model.safetensors"})
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}
