package mcp

import (
	"crm-sla/internal/settings"
	"crm-sla/internal/urgency"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type ListOrdersInput struct {
	ProjectID int64  `json:"project_id" jsonschema:"KeyCRM project ID"`
	From      string `json:"from,omitempty" jsonschema:"only orders started at or after this date (YYYY-MM-DD or RFC3339)"`
	To        string `json:"to,omitempty" jsonschema:"only orders started at or before this date (YYYY-MM-DD or RFC3339)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of orders, most recently changed first"`
	Urgency   string `json:"urgency,omitempty" jsonschema:"all (default), urgent or normal"`
}

type OrderInput struct {
	ProjectID int64 `json:"project_id" jsonschema:"KeyCRM project ID"`
	OrderID   int64 `json:"order_id" jsonschema:"KeyCRM order ID"`
}

type ReportInput struct {
	ProjectID int64  `json:"project_id" jsonschema:"KeyCRM project ID"`
	From      string `json:"from,omitempty" jsonschema:"only orders started at or after this date (YYYY-MM-DD or RFC3339)"`
	To        string `json:"to,omitempty" jsonschema:"only orders started at or before this date (YYYY-MM-DD or RFC3339)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of orders sampled, most recently changed first"`
	Urgency   string `json:"urgency,omitempty" jsonschema:"all (default), urgent or normal"`
}

type IngestWebhookInput struct {
	ProjectID int64 `json:"project_id,omitempty" jsonschema:"KeyCRM project ID; when omitted the body's project field is used"`
	Body      any   `json:"body" jsonschema:"the webhook body as posted by the CRM, either a JSON object or its string form"`
}

type ProjectInput struct {
	ProjectID int64 `json:"project_id" jsonschema:"KeyCRM project ID"`
}

type SetProjectSettingsInput struct {
	ProjectID int64             `json:"project_id" jsonschema:"KeyCRM project ID"`
	Settings  settings.Document `json:"settings" jsonschema:"the complete settings document; it replaces the stored one"`
}

type SetUrgentRulesInput struct {
	ProjectID int64          `json:"project_id" jsonschema:"KeyCRM project ID"`
	Rules     []urgency.Rule `json:"rules" jsonschema:"the complete list of urgent rules; it replaces the stored one"`
}

type SetOrderOverrideInput struct {
	ProjectID  int64  `json:"project_id" jsonschema:"KeyCRM project ID"`
	OrderID    int64  `json:"order_id" jsonschema:"KeyCRM order ID"`
	IsUrgent   *bool  `json:"is_urgent,omitempty" jsonschema:"force the order urgent (true) or normal (false)"`
	CycleStart string `json:"cycle_start,omitempty" jsonschema:"manual cycle start timestamp"`
	CycleEnd   string `json:"cycle_end,omitempty" jsonschema:"manual cycle end timestamp"`
	SLAProfile string `json:"sla_profile,omitempty" jsonschema:"normal or urgent; picks the SLA limits regardless of urgency"`
	Clear      bool   `json:"clear,omitempty" jsonschema:"remove every override of the order"`
}

// schemaFor derives an input schema that knows the text-encoded settings types.
func schemaFor[In any]() *jsonschema.Schema {
	schema, err := jsonschema.For[In](&jsonschema.ForOptions{TypeSchemas: settings.TypeSchemas()})
	if err != nil {
		panic(err)
	}
	return schema
}

func (s *Server) registerTools(server *mcpsdk.Server) {
	addTool(server, &mcpsdk.Tool{
		Name: "list_orders",
		Description: "List a project's orders, most recently changed first, with working-hours stage durations, SLA state per stage group, cycle time and urgency. " +
			"Durations count only configured working hours.",
	}, s.handleListOrders)

	addTool(server, &mcpsdk.Tool{
		Name:        "get_order_timeline",
		Description: "Get one order's status history as intervals with working and calendar seconds each, plus its computed view.",
	}, s.handleGetOrderTimeline)

	addTool(server, &mcpsdk.Tool{
		Name:        "get_stage_time_report",
		Description: "Aggregate how long orders stay in each status group (average, median and max working seconds) and the median cycle time.",
	}, s.handleGetStageTimeReport)

	addTool(server, &mcpsdk.Tool{
		Name:        "get_sla_report",
		Description: "Count orders per status group by SLA state (ok, near, over, neutral) and the share of orders breaching any limit.",
	}, s.handleGetSLAReport)

	addTool(server, &mcpsdk.Tool{
		Name:        "ingest_webhook",
		Description: "Record an order status-change webhook. Redeliveries are detected and do not duplicate history.",
	}, s.handleIngestWebhook)

	addTool(server, &mcpsdk.Tool{
		Name:        "get_project_settings",
		Description: "Get a project's settings document (working hours, cycle rules, SLA rules, urgent rules) and its order overrides.",
	}, s.handleGetProjectSettings)

	addTool(server, &mcpsdk.Tool{
		Name:        "set_project_settings",
		Description: "Replace a project's settings document. Call get_settings_schema first if unsure about the shape.",
		InputSchema: schemaFor[SetProjectSettingsInput](),
	}, s.handleSetProjectSettings)

	addTool(server, &mcpsdk.Tool{
		Name:        "set_urgent_rules",
		Description: "Replace a project's urgent rules and re-evaluate the urgency of every order with fetched items.",
		InputSchema: schemaFor[SetUrgentRulesInput](),
	}, s.handleSetUrgentRules)

	addTool(server, &mcpsdk.Tool{
		Name:        "set_order_override",
		Description: "Set or clear manual overrides of one order: urgency, cycle start/end and SLA profile.",
	}, s.handleSetOrderOverride)

	addTool(server, &mcpsdk.Tool{
		Name:        "get_settings_schema",
		Description: "Get the JSON schema of the project settings document.",
	}, s.handleGetSettingsSchema)
}
