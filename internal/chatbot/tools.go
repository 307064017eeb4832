// ABOUTME: Tools the model may call: session auth check, knowledge-base search, and KPI statistics
// ABOUTME: Tools are built per request so they see the asking session's authentication

package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-concierge/internal/agentpack"
	"github.com/2389/coven-concierge/internal/llm"
	"github.com/2389/coven-concierge/internal/store"
)

// Tool names as the model sees them.
const (
	ToolAuthChecker  = "auth_checker"
	ToolRAGRetriever = "rag_retriever"
	ToolStatistics   = "statistics_fetcher"
)

const (
	// DefaultStatClass is queried when the model names no stat class.
	DefaultStatClass = "USER_CONNECTED"
	// StatResultListAndSum is the only result type the statistics tool returns.
	StatResultListAndSum = "LIST_AND_SUM"

	defaultStatsTimeout = 10 * time.Second
	maxStatsResponse    = 1 << 20
)

// StatCounter buckets recorded KPI events.
type StatCounter interface {
	CountStats(ctx context.Context, q store.StatQuery) ([]store.StatBucket, error)
}

// StatisticsConfig configures the statistics tool. Without an Endpoint the
// tool answers from the StatCounter.
type StatisticsConfig struct {
	Enabled          bool
	RequiresAuth     bool
	Endpoint         string
	DefaultStatClass string
	DefaultStatEnums []agentpack.StatEnum
	HTTPClient       *http.Client
}

func (c StatisticsConfig) withDefaults() StatisticsConfig {
	if c.DefaultStatClass == "" {
		c.DefaultStatClass = DefaultStatClass
	}
	if len(c.DefaultStatEnums) == 0 {
		c.DefaultStatEnums = []agentpack.StatEnum{{Index: 0, Label: "default", Value: "default", Description: "default fallback value"}}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultStatsTimeout}
	}
	return c
}

func (g *Generator) tools(session *store.Session, lang string) []llm.Tool {
	tools := []llm.Tool{authCheckerTool(session.IsAuthenticated)}
	if g.retriever != nil {
		tools = append(tools, g.ragRetrieverTool())
	}
	if g.statistics.Enabled && (g.statistics.Endpoint != "" || g.stats != nil) {
		tools = append(tools, g.statisticsTool(session, lang))
	}
	return tools
}

func authCheckerTool(authenticated bool) llm.Tool {
	return llm.Tool{
		Name:        ToolAuthChecker,
		Description: "Check if the current session is authenticated. Use before calling tools that require auth.",
		Properties: map[string]any{
			"reason": map[string]any{"type": "string", "description": "Short reason for checking authentication"},
		},
		Call: func(ctx context.Context, args json.RawMessage) (string, error) {
			if authenticated {
				return "User is authenticated.", nil
			}
			return "User is NOT authenticated. Please authenticate before proceeding.", nil
		},
	}
}

func (g *Generator) ragRetrieverTool() llm.Tool {
	return llm.Tool{
		Name: ToolRAGRetriever,
		Description: "Search the internal knowledge base for information relevant to the current user question. " +
			"Pass the full user question or a focused search query.",
		Properties: map[string]any{
			"query": map[string]any{"type": "string", "description": "User question or focused search query."},
		},
		Required: []string{"query"},
		Call: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("decoding arguments: %w", err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return "", fmt.Errorf("query is required")
			}
			snippets, err := g.retriever.RetrieveContext(ctx, in.Query)
			if err != nil {
				return "", err
			}
			g.logger.Debug("rag tool retrieved context", "snippets", len(snippets))
			if len(snippets) == 0 {
				return NoDocumentsContext, nil
			}
			return strings.Join(snippets, contextSeparator), nil
		},
	}
}

// statsQuery is the statistics tool's argument object, also the body POSTed
// to a configured endpoint.
type statsQuery struct {
	From            string               `json:"from"`
	To              string               `json:"to"`
	StatClass       string               `json:"statClass"`
	StatGranularity string               `json:"statGranularity"`
	StatResultType  string               `json:"statResultType"`
	StatEnums       []agentpack.StatEnum `json:"statEnums"`
}

// statsResult is the local answer in LIST_AND_SUM form.
type statsResult struct {
	StatClass   string             `json:"statClass"`
	Granularity string             `json:"statGranularity"`
	List        []store.StatBucket `json:"list"`
	Sum         int                `json:"sum"`
}

func (g *Generator) statisticsTool(session *store.Session, lang string) llm.Tool {
	authenticated := session.IsAuthenticated
	return llm.Tool{
		Name:        ToolStatistics,
		Description: "Fetch usage statistics such as USER_CONNECTED for a time range, stat class, and granularity.",
		Properties: map[string]any{
			"from":            map[string]any{"type": "string", "description": "Start date in ISO format (e.g., 2025-06-01T00:00:00Z)"},
			"to":              map[string]any{"type": "string", "description": "End date in ISO format (e.g., 2025-06-10T23:59:59Z)"},
			"statClass":       map[string]any{"type": "string", "description": "Statistic class, e.g., " + g.statistics.DefaultStatClass},
			"statGranularity": map[string]any{"type": "string", "enum": []string{"HOUR", "DAY", "MONTH"}},
			"statResultType":  map[string]any{"type": "string", "enum": []string{StatResultListAndSum}},
			"statEnums": map[string]any{
				"type":        "array",
				"description": "List of enum filters for the query",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"index":       map[string]any{"type": "number"},
						"label":       map[string]any{"type": "string"},
						"value":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
				},
			},
		},
		Required: []string{"from", "to", "statGranularity"},
		Call: func(ctx context.Context, args json.RawMessage) (string, error) {
			if g.statistics.RequiresAuth && !authenticated {
				g.logger.Debug("statistics requested without authentication", "connection_id", session.ConnectionID)
				return g.content.GetString(lang, agentpack.KeyAuthRequired), nil
			}

			var q statsQuery
			if err := json.Unmarshal(args, &q); err != nil {
				return "", fmt.Errorf("decoding arguments: %w", err)
			}
			g.applyStatsDefaults(&q)

			var (
				out string
				err error
			)
			if g.statistics.Endpoint != "" {
				out, err = g.fetchRemoteStats(ctx, q)
			} else {
				out, err = g.countLocalStats(ctx, q)
			}
			if err != nil {
				g.logger.Warn("statistics query failed", "connection_id", session.ConnectionID, "error", err)
				return g.content.GetString(lang, agentpack.KeyStatsError), nil
			}
			return out, nil
		},
	}
}

func (g *Generator) applyStatsDefaults(q *statsQuery) {
	if q.StatClass == "" {
		q.StatClass = g.statistics.DefaultStatClass
	}
	if q.StatGranularity == "" {
		q.StatGranularity = string(store.GranularityDay)
	}
	q.StatGranularity = strings.ToUpper(q.StatGranularity)
	q.StatResultType = StatResultListAndSum
	if len(q.StatEnums) == 0 {
		q.StatEnums = g.statistics.DefaultStatEnums
	}
}

func (g *Generator) countLocalStats(ctx context.Context, q statsQuery) (string, error) {
	from, err := parseStatTime("from", q.From)
	if err != nil {
		return "", err
	}
	to, err := parseStatTime("to", q.To)
	if err != nil {
		return "", err
	}

	buckets, err := g.stats.CountStats(ctx, store.StatQuery{
		KPI:         strings.ToLower(q.StatClass),
		From:        from,
		To:          to,
		Granularity: store.Granularity(q.StatGranularity),
	})
	if err != nil {
		return "", err
	}

	res := statsResult{StatClass: q.StatClass, Granularity: q.StatGranularity, List: buckets}
	if res.List == nil {
		res.List = []store.StatBucket{}
	}
	for _, b := range buckets {
		res.Sum += b.Count
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *Generator) fetchRemoteStats(ctx context.Context, q statsQuery) (string, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.statistics.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building statistics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.statistics.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting statistics query: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStatsResponse))
	if err != nil {
		return "", fmt.Errorf("reading statistics response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("statistics endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// parseStatTime accepts RFC 3339 timestamps and plain dates. Empty is unbounded.
func parseStatTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%s: %q is not an ISO date", field, value)
}
