package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/forecast-agent/backend/internal/domain"
	"github.com/forecast-agent/backend/internal/kg/builder"
	"github.com/forecast-agent/backend/internal/metrics"
	"github.com/forecast-agent/backend/pkg/circuitbreaker"
	"github.com/forecast-agent/backend/pkg/logger"
	"github.com/forecast-agent/backend/pkg/retry"
)

// Client exports forecast insight graphs to Neo4j.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Name() string {
	return "neo4j"
}

func (c *Client) executeWrite(ctx context.Context, work neo4j.ManagedTransactionWork) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			_, err := session.ExecuteWrite(ctx, work)
			return err
		})
	})
}

// Export merges the forecast's insight graph in a single transaction.
func (c *Client) Export(ctx context.Context, result *domain.ForecastResult) error {
	graph := builder.Build(result)

	err := c.executeWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, n := range graph.Nodes {
			if _, err := tx.Run(ctx, mergeNodeQuery(n.Label), map[string]any{
				"id":    n.ID,
				"name":  n.Name,
				"props": propsOrEmpty(n.Properties),
			}); err != nil {
				return nil, fmt.Errorf("failed to merge %s node: %w", n.Label, err)
			}
		}
		for _, e := range graph.Edges {
			if _, err := tx.Run(ctx, mergeEdgeQuery, map[string]any{
				"from":      e.From,
				"to":        e.To,
				"predicate": e.Predicate,
			}); err != nil {
				return nil, fmt.Errorf("failed to merge relation %s: %w", e.Predicate, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to export insight graph: %w", err)
	}

	logger.Info("Insight graph exported",
		zap.String("request_id", result.RequestID),
		zap.Int("nodes", len(graph.Nodes)),
		zap.Int("relations", len(graph.Edges)),
	)
	return nil
}

// Labels cannot be query parameters, so each one gets its own statement.
func mergeNodeQuery(label builder.Label) string {
	return fmt.Sprintf(`
		MERGE (n:Insight:%s {id: $id})
		ON CREATE SET n.first_seen = timestamp()
		SET n.name = $name,
		    n += $props,
		    n.last_seen = timestamp()
	`, label)
}

const mergeEdgeQuery = `
	MATCH (s:Insight {id: $from})
	MATCH (o:Insight {id: $to})
	MERGE (s)-[r:RELATES {type: $predicate}]->(o)
	ON CREATE SET r.created_at = timestamp()
`

func propsOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}
