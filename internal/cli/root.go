// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli implements peerevalctl, the operator command line.
package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"peereval.dev/peereval/internal/config"
	"peereval.dev/peereval/internal/engine"
	"peereval.dev/peereval/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Actor       string
	ConfigFiles []string

	// Open builds the engine commands run against. Tests replace it.
	Open func(ctx context.Context, cfg config.View) (*engine.Engine, error)
}

// NewRootCommand creates the root command for peerevalctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Open: engine.New}

	cmd := &cobra.Command{
		Use:           "peerevalctl",
		Short:         "Operate the peer evaluation engine",
		Long:          "Trigger assignment runs, inspect evaluation progress and run maintenance sweeps against the peereval state store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "", "user the command acts as")
	cmd.PersistentFlags().StringSliceVar(&opts.ConfigFiles, "config", nil, "config files to merge, later files win (default: config/default and config/override)")

	cmd.AddCommand(NewAssignCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewFinalCommand(opts))
	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	return cmd
}

func (o *RootOptions) readConfig() (config.View, error) {
	if len(o.ConfigFiles) == 0 {
		return config.Read()
	}
	return config.ReadAndMerge(o.ConfigFiles...)
}

// withEngine opens an engine for the duration of fn.
func (o *RootOptions) withEngine(ctx context.Context, fn func(e *engine.Engine) error) (err error) {
	cfg, err := o.readConfig()
	if err != nil {
		return err
	}
	logging.ConfigureLogging(cfg)
	e, err := o.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
