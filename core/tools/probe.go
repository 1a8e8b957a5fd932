package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

var ErrNoServerURL = errors.New("server has no url to probe")

const probeClientName = "ema-relay"

// ProbeServer connects to a streamable HTTP tool server, initializes a
// session and lists its tools. It returns the number of tools reported.
func ProbeServer(ctx context.Context, serverURL, token string) (int, error) {
	if serverURL == "" {
		return 0, ErrNoServerURL
	}

	ctx, span := tracer.Start(ctx, "probe tool server")
	defer span.End()

	var options []transport.StreamableHTTPCOption
	if token != "" {
		options = append(options, transport.WithHTTPHeaders(map[string]string{"Authorization": "Bearer " + token}))
	}
	c, err := client.NewStreamableHttpClient(serverURL, options...)
	if err != nil {
		return 0, fmt.Errorf("failed to create client: %w", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return 0, fmt.Errorf("failed to connect: %w", err)
	}

	initialize := mcp.InitializeRequest{}
	initialize.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initialize.Params.ClientInfo = mcp.Implementation{Name: probeClientName, Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initialize); err != nil {
		return 0, fmt.Errorf("failed to initialize: %w", err)
	}

	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("failed to list tools: %w", err)
	}
	return len(listed.Tools), nil
}
