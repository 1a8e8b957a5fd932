package tools

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func TestProbeServerListsTools(t *testing.T) {
	mcpServer := server.NewMCPServer("probe-test", "1.0.0", server.WithToolCapabilities(true))
	mcpServer.AddTool(mcp.NewTool("echo", mcp.WithDescription("Echoes its input")), func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})
	httpServer := httptest.NewServer(server.NewStreamableHTTPServer(mcpServer))
	defer httpServer.Close()

	count, err := ProbeServer(context.Background(), httpServer.URL+"/mcp", "token")
	if err != nil {
		t.Fatalf("ProbeServer() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("ProbeServer() = %d tools, want 1", count)
	}
}

func TestProbeServerRequiresURL(t *testing.T) {
	if _, err := ProbeServer(context.Background(), "", ""); !errors.Is(err, ErrNoServerURL) {
		t.Fatalf("ProbeServer() error = %v, want %v", err, ErrNoServerURL)
	}
}
