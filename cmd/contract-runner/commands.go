package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	contractruntime "github.com/wippyai/contract-runtime"
	"github.com/wippyai/contract-runtime/config"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/identity"
	"github.com/wippyai/contract-runtime/runtime"
	"github.com/wippyai/contract-runtime/secrets"
	"github.com/wippyai/contract-runtime/wire"
)

var (
	stateArg    string
	deltaArg    string
	summaryArg  string
	relatedArgs []string
	messageArgs []string
	packPath    string
)

func init() {
	inspectCmd.Flags().StringVar(&packPath, "pack", "", "also write the module as a code container to this file")

	validateCmd.Flags().StringVar(&stateArg, "state", "", "contract state")
	validateCmd.Flags().StringArrayVar(&relatedArgs, "related", nil, "related contract as <hex id>=<state>, repeatable")

	updateCmd.Flags().StringVar(&stateArg, "state", "", "contract state")
	updateCmd.Flags().StringVar(&deltaArg, "delta", "", "state delta")

	summarizeCmd.Flags().StringVar(&stateArg, "state", "", "contract state")

	deltaCmd.Flags().StringVar(&stateArg, "state", "", "contract state")
	deltaCmd.Flags().StringVar(&summaryArg, "summary", "", "summary held by the peer")

	validateDeltaCmd.Flags().StringVar(&deltaArg, "delta", "", "state delta")

	mergeCmd.Flags().StringVar(&stateArg, "state", "", "contract state")
	mergeCmd.Flags().StringVar(&summaryArg, "summary", "", "summary of the peer's state")

	processCmd.Flags().StringArrayVar(&messageArgs, "message", nil, "inbound message, repeatable")

	rootCmd.AddCommand(inspectCmd, validateCmd, updateCmd, summarizeCmd, deltaCmd,
		validateDeltaCmd, mergeCmd, processCmd, secretsCmd, dumpConfigCmd, interactiveCmd)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle().Render(fmt.Sprintf("%-10s", label+":")), value)
}

// callArgs decodes the module and parameters shared by every call command.
func callArgs(path string) (contractruntime.Code, []byte, error) {
	code, err := readCode(path)
	if err != nil {
		return contractruntime.Code{}, nil, err
	}
	params, err := decodeArg(paramsArg)
	if err != nil {
		return contractruntime.Code{}, nil, err
	}
	return code, params, nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <module>",
	Short: "Validate a module and show its identity, exports and imports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		art, err := s.eng.Load(ctx, code)
		if err != nil {
			return err
		}
		defer art.Release()

		w := cmd.OutOrStdout()
		h := s.rt.Hasher()
		fmt.Fprintln(w, titleStyle().Render(args[0]))
		field(w, "kind", code.Kind.String())
		field(w, "abi", code.Version)
		field(w, "size", fmt.Sprintf("%d bytes", len(code.Bytes)))
		field(w, "code hash", h.Hash(code.Bytes).String())
		field(w, "identity", identity.ContractKeyFromCodeHash(h, h.Hash(code.Bytes), params).ID.String())
		field(w, "exports", strings.Join(art.Exports(), ", "))
		if imports := art.Imports(); len(imports) > 0 {
			field(w, "imports", strings.Join(imports, ", "))
		}

		if packPath != "" {
			if err := os.WriteFile(packPath, wire.EncodeCode(code), 0o644); err != nil {
				return fmt.Errorf("write container: %w", err)
			}
			field(w, "packed", packPath)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <contract>",
	Short: "Run validate_state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		state, err := decodeArg(stateArg)
		if err != nil {
			return err
		}
		related, err := parseRelated(relatedArgs)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.rt.Validate(cmd.Context(), runtime.ValidateRequest{
			Code:       &code,
			Parameters: params,
			State:      state,
			Related:    related,
		})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		field(w, "outcome", resultStyle().Render(res.Outcome.String()))
		for _, id := range res.Missing {
			field(w, "missing", id.String())
		}
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <contract>",
	Short: "Run update_state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		state, err := decodeArg(stateArg)
		if err != nil {
			return err
		}
		delta, err := decodeArg(deltaArg)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.rt.Update(cmd.Context(), runtime.UpdateRequest{
			Code:       &code,
			Parameters: params,
			State:      state,
			Delta:      delta,
		})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if !res.Changed {
			field(w, "outcome", resultStyle().Render("no change"))
			return nil
		}
		field(w, "state", resultStyle().Render(render(res.State)))
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <contract>",
	Short: "Run summarize_state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		state, err := decodeArg(stateArg)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		sum, err := s.rt.Summarize(cmd.Context(), runtime.SummarizeRequest{Code: &code, Parameters: params, State: state})
		if err != nil {
			return err
		}
		field(cmd.OutOrStdout(), "summary", resultStyle().Render(render(sum)))
		return nil
	},
}

var deltaCmd = &cobra.Command{
	Use:   "delta <contract>",
	Short: "Run get_state_delta",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		state, err := decodeArg(stateArg)
		if err != nil {
			return err
		}
		summary, err := decodeArg(summaryArg)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		delta, err := s.rt.Delta(cmd.Context(), runtime.DeltaRequest{
			Code:       &code,
			Parameters: params,
			State:      state,
			Summary:    summary,
		})
		if err != nil {
			return err
		}
		field(cmd.OutOrStdout(), "delta", resultStyle().Render(render(delta)))
		return nil
	},
}

var validateDeltaCmd = &cobra.Command{
	Use:   "validate-delta <contract>",
	Short: "Run validate_delta",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		delta, err := decodeArg(deltaArg)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		ok, err := s.rt.ValidateDelta(cmd.Context(), runtime.ValidateDeltaRequest{Code: &code, Parameters: params, Delta: delta})
		if err != nil {
			return err
		}
		outcome := "valid"
		if !ok {
			outcome = "invalid"
		}
		field(cmd.OutOrStdout(), "outcome", resultStyle().Render(outcome))
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <contract>",
	Short: "Run update_state_from_summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		state, err := decodeArg(stateArg)
		if err != nil {
			return err
		}
		summary, err := decodeArg(summaryArg)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		res, err := s.rt.UpdateFromSummary(cmd.Context(), runtime.MergeSummaryRequest{
			Code:       &code,
			Parameters: params,
			State:      state,
			Summary:    summary,
		})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if !res.Changed {
			field(w, "outcome", resultStyle().Render("no change"))
			return nil
		}
		field(w, "state", resultStyle().Render(render(res.State)))
		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process <delegate>",
	Short: "Hand messages to a delegate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		msgs, err := decodeMessages(messageArgs)
		if err != nil {
			return err
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		out, err := s.rt.Process(cmd.Context(), runtime.ProcessRequest{Code: &code, Parameters: params, Messages: msgs})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		field(w, "messages", fmt.Sprintf("%d", len(out)))
		for i, m := range out {
			field(w, fmt.Sprintf("#%d", i), resultStyle().Render(render(m)))
		}
		return nil
	},
}

var secretsCmd = &cobra.Command{
	Use:   "secrets <delegate>",
	Short: "List the secret names a delegate identity holds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		if code.Kind != contractruntime.KindDelegate {
			return fmt.Errorf("%s is %s code", args[0], code.Kind)
		}
		s, err := openStack(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()
		if s.secrets == nil {
			return fmt.Errorf("no secret store configured")
		}

		key := identity.NewDelegateKey(s.rt.Hasher(), code.Bytes, params)
		names, err := s.secrets.Names(cmd.Context(), secrets.Bind(s.secrets, key).Namespace())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		field(w, "delegate", key.String())
		for _, n := range names {
			fmt.Fprintln(w, "  "+render(n))
		}
		return nil
	},
}

var dumpConfigCmd = &cobra.Command{
	Use:   "dumpconfig [file]",
	Short: "Show configuration values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		out, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		return os.WriteFile(args[0], out, 0o644)
	},
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive <module>",
	Short: "Call a module's entry points from a terminal UI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, params, err := callArgs(args[0])
		if err != nil {
			return err
		}
		return runInteractive(cmd.Context(), args[0], code, params)
	},
}

// entryPoints lists the calls the interactive mode offers for a kind.
func entryPoints(kind contractruntime.Kind) []string {
	if kind == contractruntime.KindDelegate {
		return []string{engine.ExportProcess}
	}
	return []string{
		engine.ExportValidateState,
		engine.ExportUpdateState,
		engine.ExportSummarizeState,
		engine.ExportGetStateDelta,
		engine.ExportValidateDelta,
		engine.ExportUpdateFromSummary,
	}
}
