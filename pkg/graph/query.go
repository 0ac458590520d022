package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// QueryService answers read-only journey questions over the projection
type QueryService struct {
	client *Client
	logger ectologger.Logger
}

// NewQueryService creates a new query service
func NewQueryService(client *Client, logger ectologger.Logger) *QueryService {
	return &QueryService{
		client: client,
		logger: logger,
	}
}

// QueryResult represents the result of a graph query
type QueryResult struct {
	Nodes         []NodeResult `json:"nodes,omitempty"`
	Relationships []RelResult  `json:"relationships,omitempty"`
	Rows          []any        `json:"rows,omitempty"`
}

// NodeResult represents a node from query results
type NodeResult struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// RelResult represents a relationship from query results
type RelResult struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	StartNode  string         `json:"start_node"`
	EndNode    string         `json:"end_node"`
	Properties map[string]any `json:"properties"`
}

// LeadJourney returns a lead's node and its linked events in occurrence
// order, edges included
func (s *QueryService) LeadJourney(ctx context.Context, accountID, leadKey string) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.LeadJourney")
	defer span.End()

	cypher := `
		MATCH (l:Lead {lead_key: $lead_key, account_id: $account_id})
		OPTIONAL MATCH (e:Event {account_id: $account_id})-[r:LINKED_TO]->(l)
		RETURN l, r, e
		ORDER BY e.occurred_at
	`

	return s.execute(ctx, accountID, cypher, map[string]any{
		"lead_key": leadKey,
	})
}

// RelatedLeads finds other leads whose events share a click identifier with
// this lead's events. Surfaces identities the click-chain pass could not
// join, usually because the shared click arrived after both leads existed.
func (s *QueryService) RelatedLeads(ctx context.Context, accountID, leadKey string) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.RelatedLeads")
	defer span.End()

	cypher := `
		MATCH (l:Lead {lead_key: $lead_key, account_id: $account_id})<-[:LINKED_TO]-(e:Event)
		WHERE e.ad_click_id IS NOT NULL OR e.client_id IS NOT NULL
		MATCH (o:Event {account_id: $account_id})-[:LINKED_TO]->(m:Lead)
		WHERE m.id <> l.id
		AND ((e.ad_click_id IS NOT NULL AND o.ad_click_id = e.ad_click_id)
			OR (e.client_id IS NOT NULL AND o.client_id = e.client_id))
		RETURN DISTINCT m
	`

	return s.execute(ctx, accountID, cypher, map[string]any{
		"lead_key": leadKey,
	})
}

// execute runs a read-only Cypher query scoped to one account
func (s *QueryService) execute(ctx context.Context, accountID string, cypher string, params map[string]any) (*QueryResult, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
	})

	if params == nil {
		params = make(map[string]any)
	}
	params["account_id"] = accountID

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		qr := &QueryResult{
			Nodes:         make([]NodeResult, 0),
			Relationships: make([]RelResult, 0),
			Rows:          make([]any, 0),
		}

		seenNodes := make(map[string]bool)
		seenRels := make(map[string]bool)

		for result.Next(ctx) {
			record := result.Record()
			row := make(map[string]any)

			for _, key := range record.Keys {
				val, _ := record.Get(key)
				row[key] = extractValue(val, qr, seenNodes, seenRels)
			}

			qr.Rows = append(qr.Rows, row)
		}

		return qr, nil
	})

	if err != nil {
		log.WithError(err).Error("Failed to execute graph query")
		return nil, fmt.Errorf("failed to execute graph query: %w", err)
	}

	return result.(*QueryResult), nil
}

// extractValue converts neo4j types to standard Go types
func extractValue(val any, qr *QueryResult, seenNodes, seenRels map[string]bool) any {
	if val == nil {
		return nil
	}

	switch v := val.(type) {
	case neo4j.Node:
		id := fmt.Sprintf("%v", v.Props["id"])
		if !seenNodes[id] {
			seenNodes[id] = true
			qr.Nodes = append(qr.Nodes, NodeResult{
				ID:         id,
				Labels:     v.Labels,
				Properties: v.Props,
			})
		}
		return id

	case neo4j.Relationship:
		id := v.ElementId
		if !seenRels[id] {
			seenRels[id] = true
			qr.Relationships = append(qr.Relationships, RelResult{
				ID:         id,
				Type:       v.Type,
				Properties: v.Props,
			})
		}
		return id

	case neo4j.Path:
		for _, node := range v.Nodes {
			extractValue(node, qr, seenNodes, seenRels)
		}
		for _, rel := range v.Relationships {
			extractValue(rel, qr, seenNodes, seenRels)
		}
		return map[string]any{
			"node_count": len(v.Nodes),
			"rel_count":  len(v.Relationships),
		}

	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = extractValue(item, qr, seenNodes, seenRels)
		}
		return result

	default:
		return v
	}
}
