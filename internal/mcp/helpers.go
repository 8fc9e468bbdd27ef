package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// Envelope is the shape of every tool response.
type Envelope struct {
	Data     any      `json:"data"`
	Warnings []string `json:"warnings"`
	Guidance []string `json:"_guidance,omitempty"`
}

// WrapResponse packs a tool result with the warnings met while computing it
// and hints for the calling agent.
func WrapResponse(data any, warnings []string, guidance ...string) Envelope {
	if warnings == nil {
		warnings = []string{}
	}
	return Envelope{Data: data, Warnings: warnings, Guidance: guidance}
}

func formatResult(data any) string {
	out, _ := json.MarshalIndent(data, "", "  ")
	return string(out)
}

// addTool registers a handler that returns plain data; errors become tool errors
// the agent can read rather than protocol failures.
func addTool[In any](server *mcpsdk.Server, tool *mcpsdk.Tool, handle func(context.Context, In) (any, error)) {
	mcpsdk.AddTool(server, tool, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, any, error) {
		started := time.Now()
		data, err := handle(ctx, in)
		if err != nil {
			log.Warn().Err(err).Str("tool", tool.Name).Msg("Tool call failed")
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		log.Debug().Str("tool", tool.Name).Dur("took", time.Since(started)).Msg("Tool call served")
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: formatResult(data)}},
		}, nil, nil
	})
}

func requireProject(projectID int64) error {
	if projectID <= 0 {
		return fmt.Errorf("project_id must be a positive KeyCRM project ID")
	}
	return nil
}
