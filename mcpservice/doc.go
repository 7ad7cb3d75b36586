// Package mcpservice holds the building blocks the engine dispatches to: a
// fixed tool registry with schemas reflected from typed argument structs, a
// logging capability bound to a slog.LevelVar, and the server identity
// reported from initialize.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema_description:"Text to echo"`
//	}
//	tools, err := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool[EchoArgs]("echo",
//	        func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	            return w.AppendText("you said: " + r.Args().Message)
//	        },
//	        mcpservice.WithToolDescription("Echo a message back to the caller"),
//	    ),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//
// Fields without `omitempty` are required: the container rejects calls that
// omit them, pass null, or pass an empty string, before the handler runs.
package mcpservice
