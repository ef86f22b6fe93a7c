// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary runs the BAM type plugin jobs started by a Qiita server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qiita-spots/qtp-bam/internal/config"
	"github.com/qiita-spots/qtp-bam/internal/storage"
	"github.com/qiita-spots/qtp-bam/internal/toolkit"
	"github.com/qiita-spots/qtp-bam/plugin"
	"github.com/qiita-spots/qtp-bam/qiita"
)

// The job ID that asks the run command to register the plugin instead.
const registerJobID = "register"

type options struct {
	configPath string
	verbose    bool
	profileDir string

	stopProfile func()
}

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs the command line in args.  A profile started by --profile is
// flushed however the command ends.
func execute(args []string, stdout, stderr io.Writer) error {
	opts := &options{}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer func() {
		if opts.stopProfile != nil {
			opts.stopProfile()
		}
	}()
	return root.Execute()
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "qtp-bam",
		Short:         "Qiita type plugin for BAM alignment files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.profileDir != "" {
				opts.stopProfile = profile.Start(profile.CPUProfile, profile.ProfilePath(opts.profileDir), profile.Quiet).Stop
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(plugin.Name, plugin.Version), "plugin configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.profileDir, "profile", "", "write a CPU profile to this directory")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newRegisterCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run SERVER_URL JOB_ID OUTPUT_DIR",
		Short: "Execute a job",
		Long: `Fetches the job from the server, runs the command it names and reports
its outcome.  A JOB_ID of "register" registers the plugin instead.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, jobID, outDir := args[0], args[1], args[2]
			return withPlugin(cmd.Context(), opts, server, func(ctx context.Context, p *plugin.Plugin, client *qiita.Client) error {
				if jobID == registerJobID {
					return p.Register(ctx, client)
				}
				return p.Run(ctx, client, jobID, outDir)
			})
		},
	}
}

func newRegisterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "register SERVER_URL",
		Short: "Register the artifact types of the plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlugin(cmd.Context(), opts, args[0], func(ctx context.Context, p *plugin.Plugin, client *qiita.Client) error {
				return p.Register(ctx, client)
			})
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	var serverCert string
	cmd := &cobra.Command{
		Use:   "config ENV_SCRIPT START_SCRIPT",
		Short: "Generate the plugin configuration file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Generate(opts.configPath, config.GenerateOptions{
				Name:              plugin.Name,
				Version:           plugin.Version,
				Description:       plugin.Description,
				EnvironmentScript: args[0],
				StartScript:       args[1],
				ServerCert:        serverCert,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (client ID %s)\n", opts.configPath, cfg.OAuth2.ClientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverCert, "server-cert", "", "CA bundle used to verify the server certificate")
	return cmd
}

func withPlugin(ctx context.Context, opts *options, server string, run func(context.Context, *plugin.Plugin, *qiita.Client) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, opts.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := qiita.NewClient(ctx, server, qiita.Options{
		ClientID:     cfg.OAuth2.ClientID,
		ClientSecret: cfg.OAuth2.ClientSecret,
		CABundle:     cfg.OAuth2.ServerCert,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating client: %v", err)
	}

	stager := storage.NewStager(logger, map[string]storage.Factory{
		"gs": storage.NewGCSFactory(storage.GCSOptions{
			CredentialsFile: cfg.Storage.GCS.CredentialsFile,
			Anonymous:       cfg.Storage.GCS.Anonymous,
		}),
		"s3": storage.NewS3Factory(storage.S3Options{
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Region:    cfg.Storage.S3.Region,
			Insecure:  cfg.Storage.S3.Insecure,
		}),
	})
	return run(ctx, plugin.New(toolkit.New(logger), stager, logger), client)
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger, nil
}
