// Command contract-runner runs contract and delegate modules from disk.
//
//	contract-runner inspect token.wasm
//	contract-runner validate token.wasm --params hex:01 --state @state.bin
//	contract-runner process wallet.wasm --message "ping" --message @msg.bin
//	contract-runner interactive token.wasm
//
// Buffers are given as literal text, hex:<digits>, base64:<text> or
// @<file>. Module files are either code containers or raw WebAssembly,
// in which case --kind and --abi-version describe them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/contract-runtime/cache"
	"github.com/wippyai/contract-runtime/codestore"
	"github.com/wippyai/contract-runtime/config"
	"github.com/wippyai/contract-runtime/engine"
	"github.com/wippyai/contract-runtime/runtime"
	"github.com/wippyai/contract-runtime/secrets"
	"github.com/wippyai/contract-runtime/statestore"
)

var (
	configFile string
	kindFlag   string
	abiVersion string
	paramsArg  string
)

var rootCmd = &cobra.Command{
	Use:           "contract-runner",
	Short:         "Run contract and delegate WebAssembly modules",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "TOML configuration file")
	pf.StringVar(&kindFlag, "kind", "", "module kind of raw wasm files: contract or delegate")
	pf.StringVar(&abiVersion, "abi-version", engine.HostABIVersion, "ABI version of raw wasm files")
	pf.StringVar(&paramsArg, "params", "", "instance parameters")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle().Render("Error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}

// stack is everything a command needs to run calls.
type stack struct {
	cfg     config.Config
	log     *zap.Logger
	eng     *engine.Engine
	rt      *runtime.Runtime
	secrets secrets.Store
	closers []func() error
}

func openStack(ctx context.Context) (*stack, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	engine.SetLogger(log.Named("engine"))
	cache.SetLogger(log.Named("cache"))
	codestore.SetLogger(log.Named("codestore"))
	secrets.SetLogger(log.Named("secrets"))
	statestore.SetLogger(log.Named("statestore"))

	s := &stack{cfg: cfg, log: log}
	s.eng, err = engine.New(ctx, cfg.Engine)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { return s.eng.Close(ctx) })

	s.secrets, err = cfg.OpenSecrets()
	if err != nil {
		s.close()
		return nil, err
	}
	if s.secrets != nil {
		s.closers = append(s.closers, s.secrets.Close)
	}

	fetcher, closeState, err := cfg.OpenState(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, closeState)

	s.rt, err = runtime.New(s.eng, cfg.RuntimeConfig(log, fetcher, s.secrets))
	if err != nil {
		s.close()
		return nil, err
	}
	s.closers = append(s.closers, func() error { return s.rt.Close(ctx) })
	return s, nil
}

// close runs the closers in reverse order of opening.
func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = s.log.Sync()
}
