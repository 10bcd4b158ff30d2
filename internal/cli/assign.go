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

package cli

import (
	"github.com/spf13/cobra"
	"peereval.dev/peereval/internal/engine"
	"peereval.dev/peereval/pkg/model"
)

// AssignOptions holds flags for the assign command.
type AssignOptions struct {
	*RootOptions
	Force                    bool
	EvaluationsPerSubmission int
	MaxEvaluationsPerStudent int
}

// NewAssignCommand creates the assign command.
func NewAssignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AssignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "assign <assignment-id>",
		Short: "Match evaluators to the submissions of an assignment",
		Long: `Run the evaluator matcher for an assignment and store the created evaluations.

Example:
  peerevalctl assign essay-1 --actor prof
  peerevalctl assign essay-1 --actor prof --force --per-submission 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *model.SettingsOverride
			if cmd.Flags().Changed("per-submission") || cmd.Flags().Changed("max-per-student") {
				override = &model.SettingsOverride{}
				if cmd.Flags().Changed("per-submission") {
					override.EvaluationsPerSubmission = &opts.EvaluationsPerSubmission
				}
				if cmd.Flags().Changed("max-per-student") {
					override.MaxEvaluationsPerStudent = &opts.MaxEvaluationsPerStudent
				}
			}
			return opts.withEngine(cmd.Context(), func(e *engine.Engine) error {
				result, err := e.Matcher.TriggerAssignment(cmd.Context(), opts.Actor, args[0], override, opts.Force)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "replace existing evaluations")
	cmd.Flags().IntVar(&opts.EvaluationsPerSubmission, "per-submission", 0, "override evaluations per submission")
	cmd.Flags().IntVar(&opts.MaxEvaluationsPerStudent, "max-per-student", 0, "override the evaluator load cap")
	return cmd
}

// NewFinalizeCommand creates the finalize command.
func NewFinalizeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <assignment-id>",
		Short: "Compile final evaluations for every complete submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), func(e *engine.Engine) error {
				finals, err := e.Controller.FinalizeAssignment(cmd.Context(), args[0], opts.Actor)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), finals)
			})
		},
	}
}
