package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func connect(t *testing.T, env testEnv) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	serverSession, err := env.server.MCPServer().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcpsdk.ClientSession, name string, args map[string]any) (*mcpsdk.CallToolResult, string) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("call %s: expected one content block, got %d", name, len(res.Content))
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("call %s: expected text content, got %T", name, res.Content[0])
	}
	return res, text.Text
}

func TestServer_ListTools(t *testing.T) {
	session := connect(t, newTestEnv(t, false))

	res, err := session.ListTools(context.Background(), &mcpsdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{
		"list_orders", "get_order_timeline", "get_stage_time_report", "get_sla_report",
		"ingest_webhook", "get_project_settings", "set_project_settings",
		"set_urgent_rules", "set_order_override", "get_settings_schema",
	} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %s is not registered (have %v)", want, names)
		}
	}
}

func TestServer_IngestThenList(t *testing.T) {
	session := connect(t, newTestEnv(t, false))

	res, text := callTool(t, session, "ingest_webhook", map[string]any{"project_id": 1, "body": testWebhook})
	if res.IsError {
		t.Fatalf("ingest failed: %s", text)
	}

	res, text = callTool(t, session, "list_orders", map[string]any{"project_id": 1, "limit": 10})
	if res.IsError {
		t.Fatalf("list failed: %s", text)
	}
	var out struct {
		Data struct {
			Count  int `json:"count"`
			Orders []struct {
				OrderID      int64            `json:"order_id"`
				StageSeconds map[string]int64 `json:"stage_seconds"`
			} `json:"orders"`
		} `json:"data"`
		Warnings []string `json:"warnings"`
		Guidance []string `json:"_guidance"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, text)
	}
	if out.Data.Count != 1 || out.Data.Orders[0].OrderID != 42 {
		t.Fatalf("unexpected list %+v", out.Data)
	}
	if out.Data.Orders[0].StageSeconds["2"] != 7200 {
		t.Errorf("expected 7200 working seconds in group 2, got %v", out.Data.Orders[0].StageSeconds)
	}
	if out.Warnings == nil || len(out.Guidance) == 0 {
		t.Errorf("expected warnings and guidance in the envelope, got %s", text)
	}
}

func TestServer_ToolErrorsAreResults(t *testing.T) {
	session := connect(t, newTestEnv(t, false))

	res, text := callTool(t, session, "get_order_timeline", map[string]any{"project_id": 1, "order_id": 99})
	if !res.IsError {
		t.Fatalf("expected a tool error, got %s", text)
	}
	if text == "" {
		t.Error("expected an error message")
	}
}

func TestServer_SettingsSchema(t *testing.T) {
	session := connect(t, newTestEnv(t, false))

	res, text := callTool(t, session, "get_settings_schema", map[string]any{})
	if res.IsError {
		t.Fatalf("schema failed: %s", text)
	}
	var out struct {
		Data struct {
			Type       string                     `json:"type"`
			Properties map[string]json.RawMessage `json:"properties"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.Type != "object" {
		t.Errorf("expected an object schema, got %q", out.Data.Type)
	}
	for _, key := range []string{"working_hours", "sla_rules", "urgent_rules", "cycle_rules"} {
		if _, ok := out.Data.Properties[key]; !ok {
			t.Errorf("expected property %s", key)
		}
	}
}
