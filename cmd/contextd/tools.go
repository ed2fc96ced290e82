package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/contextstore"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/correlate"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/inherit"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/knowledge"
	ommcp "github.com/OmniNode-ai/omniintelligence-sub000/pkg/mcp"
)

// toolset binds the engine components to their MCP tool handlers.
type toolset struct {
	store    *contextstore.Store
	packager *inherit.Packager
	pipeline *knowledge.Pipeline
	engine   *correlate.Engine

	// windowSince is the default lookback for on-demand correlation.
	windowSince time.Duration
}

func (t *toolset) register(s *ommcp.Server) {
	s.RegisterTool("context.get",
		"Return the current context bundle snapshot for a workflow.",
		t.contextGet,
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow identifier")),
	)
	s.RegisterTool("context.merge",
		"Merge proposed components into a workflow's context bundle. Conflicts resolve by authority, canonicality, then recency.",
		t.contextMerge,
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow identifier")),
		mcp.WithObject("components", mcp.Required(),
			mcp.Description("Map of component name to {value, authoritative?, canonical?, last_verified?}")),
	)
	s.RegisterTool("context.reset",
		"Clear a workflow's context bundle and reset its version to zero.",
		t.contextReset,
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow identifier")),
	)
	s.RegisterTool("context.package",
		"Build an immutable inheritance package for a delegated task. Rejected when the bundle is stale or invalid.",
		t.contextPackage,
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow identifier")),
	)
	s.RegisterTool("knowledge.capture",
		"Record execution metadata and extracted patterns. Best-effort: persistence failures never fail the call.",
		t.knowledgeCapture,
		mcp.WithString("source_domain", mcp.Required(), mcp.Description("Domain the record originates from")),
		mcp.WithString("task_id", mcp.Description("Originating task identifier")),
		mcp.WithString("outcome", mcp.Description("Execution outcome, e.g. success or failure")),
		mcp.WithArray("patterns", mcp.Description("Extracted patterns: [{pattern_type, description, confidence}]")),
		mcp.WithArray("tags", mcp.Description("Correlation tags")),
	)
	s.RegisterTool("knowledge.query",
		"Query captured knowledge records by tag and source domain, newest first.",
		t.knowledgeQuery,
		mcp.WithArray("tags", mcp.Description("Match records carrying any of these tags")),
		mcp.WithString("source_domain", mcp.Description("Restrict to one domain")),
		mcp.WithNumber("limit", mcp.Description("Max records to return")),
	)
	s.RegisterTool("correlate.run",
		"Run a correlation pass over recent records and return cross-domain summaries.",
		t.correlateRun,
		mcp.WithNumber("since_hours", mcp.Description("Lookback window in hours; 0 scans full history")),
		mcp.WithArray("source_domains", mcp.Description("Restrict the pass to these domains")),
		mcp.WithNumber("limit", mcp.Description("Max records to load, newest first")),
	)
}

func (t *toolset) contextGet(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	workflowID := strArg(args, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' is required"), nil
	}
	bundle, err := t.store.Get(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(bundle)
}

func (t *toolset) contextMerge(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	workflowID := strArg(args, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' is required"), nil
	}
	rawComponents, ok := args["components"].(map[string]interface{})
	if !ok || len(rawComponents) == 0 {
		return mcp.NewToolResultError("'components' must be a non-empty object"), nil
	}

	proposed := make(map[string]contextstore.ComponentEntry, len(rawComponents))
	for name, raw := range rawComponents {
		entry, err := parseComponent(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("component %q: %v", name, err)), nil
		}
		proposed[name] = entry
	}

	bundle, err := t.store.Merge(ctx, workflowID, proposed)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(bundle)
}

// parseComponent accepts {value, authoritative?, canonical?, last_verified?}.
// An absent last_verified means "verified now": a zero timestamp would lose
// conflict resolution to any previously stamped entry, so a plain value
// update through the tool would silently change nothing.
func parseComponent(raw interface{}) (contextstore.ComponentEntry, error) {
	var entry contextstore.ComponentEntry
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return entry, fmt.Errorf("expected an object")
	}
	value, ok := obj["value"]
	if !ok {
		return entry, fmt.Errorf("missing 'value'")
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return entry, err
	}
	entry.Value = payload
	entry.Authoritative, _ = obj["authoritative"].(bool)
	entry.Canonical, _ = obj["canonical"].(bool)
	entry.LastVerified = time.Now()
	if verified, ok := obj["last_verified"].(string); ok && verified != "" {
		parsed, err := time.Parse(time.RFC3339, verified)
		if err != nil {
			return entry, fmt.Errorf("invalid 'last_verified': %v", err)
		}
		entry.LastVerified = parsed
	}
	return entry, nil
}

func (t *toolset) contextReset(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	workflowID := strArg(args, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' is required"), nil
	}
	bundle, err := t.store.Reset(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(bundle)
}

func (t *toolset) contextPackage(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	workflowID := strArg(args, "workflow_id")
	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' is required"), nil
	}
	pkg, err := t.packager.Package(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(pkg)
}

func (t *toolset) knowledgeCapture(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	sourceDomain := strArg(args, "source_domain")
	if sourceDomain == "" {
		return mcp.NewToolResultError("'source_domain' is required"), nil
	}

	meta := knowledge.ExecutionMetadata{
		TaskID:  strArg(args, "task_id"),
		Outcome: strArg(args, "outcome"),
	}
	patterns, err := parsePatterns(args["patterns"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	recordID, err := t.pipeline.Capture(ctx, sourceDomain, meta, patterns, strSliceArg(args, "tags"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"record_id": recordID})
}

func parsePatterns(raw interface{}) ([]knowledge.Pattern, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("'patterns' must be an array")
	}
	patterns := make([]knowledge.Pattern, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("pattern %d: expected an object", i)
		}
		pattern := knowledge.Pattern{
			Type:        stringField(obj, "pattern_type"),
			Description: stringField(obj, "description"),
		}
		if confidence, ok := obj["confidence"].(float64); ok {
			pattern.Confidence = confidence
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func (t *toolset) knowledgeQuery(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	records, err := t.pipeline.Query(ctx,
		strSliceArg(args, "tags"),
		strArg(args, "source_domain"),
		intArg(args, "limit"),
	)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(records)
}

func (t *toolset) correlateRun(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	window := correlate.Window{
		SourceDomains: strSliceArg(args, "source_domains"),
		Limit:         intArg(args, "limit"),
	}
	sinceHours, hasSince := args["since_hours"].(float64)
	switch {
	case hasSince && sinceHours > 0:
		window.Since = time.Now().Add(-time.Duration(sinceHours * float64(time.Hour)))
	case !hasSince && t.windowSince > 0:
		window.Since = time.Now().Add(-t.windowSince)
	}

	summaries, err := t.engine.Correlate(ctx, window)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(summaries)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func strArg(args map[string]interface{}, key string) string {
	value, _ := args[key].(string)
	return value
}

func stringField(obj map[string]interface{}, key string) string {
	value, _ := obj[key].(string)
	return value
}

func intArg(args map[string]interface{}, key string) int {
	if value, ok := args[key].(float64); ok {
		return int(value)
	}
	return 0
}

func strSliceArg(args map[string]interface{}, key string) []string {
	items, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
