package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	orchestration "github.com/koscakluka/ema-relay/core"
	"github.com/koscakluka/ema-relay/core/automation/wsbridge"
	"github.com/koscakluka/ema-relay/core/preflight"
	"github.com/koscakluka/ema-relay/core/tools"
	"github.com/spf13/viper"
)

// relayConfigKey is the section of the config file holding the relay
// settings.
const relayConfigKey = "relay"

func loadRelayConfig() (orchestration.Config, error) {
	config := orchestration.DefaultConfig()
	if err := viper.UnmarshalKey(relayConfigKey, &config); err != nil {
		return config, fmt.Errorf("failed to decode %q config section: %w", relayConfigKey, err)
	}
	return config, nil
}

// runtime holds the collaborators a command wires into the orchestrator and
// has to release afterwards.
type runtime struct {
	options []orchestration.OrchestratorOption
	closers []io.Closer
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i].Close())
	}
	return errors.Join(errs...)
}

// wireRuntime builds the preflight store, the server prober and the
// automation bridge from the config.
func wireRuntime(ctx context.Context, config orchestration.Config, preflightPath string) (*runtime, error) {
	rt := &runtime{}

	if preflightPath != "" {
		store, err := preflight.OpenSQLite(preflightPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open preflight store: %w", err)
		}
		rt.closers = append(rt.closers, store)
		rt.options = append(rt.options, orchestration.WithPreflightStore(store))
	}

	rt.options = append(rt.options, orchestration.WithProber(orchestration.ProberFunc(probeServer)))

	if url := config.Automation.BridgeURL; url != "" {
		bridge, err := wsbridge.Dial(ctx, url, http.Header{})
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to connect automation bridge: %w", err)
		}
		rt.closers = append(rt.closers, bridge)
		rt.options = append(rt.options, orchestration.WithAutomationExecutor(bridge))
	}

	return rt, nil
}

// probeServer lists the tools of a server reachable by URL. Hosted
// connectors have no URL and are validated by the model's own tool listing.
func probeServer(ctx context.Context, server orchestration.ServerConfig) error {
	if server.URL == "" {
		return nil
	}
	count, err := tools.ProbeServer(ctx, server.URL, server.Token)
	if err != nil {
		return err
	}
	slog.Debug("probed tool server", "label", server.Label, "tools", count)
	return nil
}
