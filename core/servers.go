package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-relay/core/preflight"
)

// checkServers returns the configured tool servers that may be offered for
// the next turn, probing any whose validation is stale, revoked or was made
// for another credential.
func (o *Orchestrator) checkServers(ctx context.Context) ([]ServerConfig, []string) {
	var (
		servers  []ServerConfig
		warnings []string
	)
	for _, server := range o.config.Servers {
		if err := o.checkServer(ctx, server); err != nil {
			warnings = append(warnings, fmt.Sprintf("Skipping %s: %v", server.Label, err))
			continue
		}
		servers = append(servers, server)
	}
	return servers, warnings
}

func (o *Orchestrator) checkServer(ctx context.Context, server ServerConfig) error {
	record, found, err := o.preflight.Get(ctx, server.Label)
	if err != nil {
		logger.Warn("failed to read preflight record", "server_label", server.Label, "error", err)
		found = false
	}

	now := o.now()
	if found && record.Matches(server.Token) && record.Fresh(now, o.config.PreflightWindow) {
		return nil
	}
	if o.prober == nil {
		// The list-tools call of the next response validates the server.
		return nil
	}

	ctx, span := tracer.Start(ctx, "probe tool server")
	defer span.End()

	probeErr := o.prober.Probe(ctx, server)
	next := preflight.Record{OK: probeErr == nil, CheckedAt: now, TokenHash: preflight.HashToken(server.Token)}
	if err := o.preflight.Put(ctx, server.Label, next); err != nil {
		logger.Warn("failed to write preflight record", "server_label", server.Label, "error", err)
	}
	if probeErr != nil {
		o.recordError(ctx, fmt.Errorf("preflight for %s failed: %w", server.Label, probeErr))
		return probeErr
	}
	return nil
}
