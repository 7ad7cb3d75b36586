package stdio_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titaniummachine1/Lmaobox-Context-Server/mcp"
	"github.com/titaniummachine1/Lmaobox-Context-Server/mcpservice"
	"github.com/titaniummachine1/Lmaobox-Context-Server/stdio"
)

type greetArgs struct {
	Name string `json:"name"`
}

// TestSDKClient drives the handler with an independent MCP client
// implementation over a pair of pipes.
func TestSDKClient(t *testing.T) {
	tools, err := mcpservice.NewToolsContainer(
		mcpservice.NewTool[greetArgs]("greet", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[greetArgs]) error {
			return w.AppendText("hello " + r.Args().Name)
		}, mcpservice.WithToolDescription("Say hello")),
	)
	require.NoError(t, err)
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "lmaobox-context", Version: "1.0.0"}),
		mcpservice.WithToolsCapability(tools),
	)

	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()

	h := stdio.NewHandler(srv,
		stdio.WithIO(clientToServerR, serverToClientW),
		stdio.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- h.Serve(ctx)
		_ = serverToClientW.Close()
	}()

	client := sdk.NewClient(&sdk.Implementation{Name: "sdk-test", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &sdk.IOTransport{Reader: serverToClientR, Writer: clientToServerW}, nil)
	require.NoError(t, err)

	init := session.InitializeResult()
	require.NotNil(t, init)
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "lmaobox-context", init.ServerInfo.Name)

	list, err := session.ListTools(ctx, &sdk.ListToolsParams{})
	require.NoError(t, err)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "greet", list.Tools[0].Name)
	assert.Equal(t, "Say hello", list.Tools[0].Description)

	res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: "greet", Arguments: map[string]any{"name": "lmaobox"}})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	assert.Equal(t, "hello lmaobox", text.Text)

	_, err = session.CallTool(ctx, &sdk.CallToolParams{Name: "greet", Arguments: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required argument: name")

	_ = session.Close()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Serve did not return after the client closed")
	}
}
