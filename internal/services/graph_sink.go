package services

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/shopsense/pkg/models"
)

var interactionRelationships = map[models.EventType]string{
	models.EventView:      "VIEWED",
	models.EventClick:     "CLICKED",
	models.EventAddToCart: "ADDED_TO_CART",
	models.EventPurchase:  "PURCHASED",
}

// Relationship types cannot be parameterised, so the type is formatted in
// from the fixed set above.
const interactionEdgeCypher = `MERGE (u:User {id: $user_id})
MERGE (p:Product {id: $product_id})
ON CREATE SET p.category = $category
MERGE (u)-[r:%s]->(p)
ON CREATE SET r.first_at = $timestamp, r.count = 0
SET r.count = r.count + 1, r.last_at = $timestamp`

// GraphSink records product interactions as (:User)-[:REL]->(:Product)
// edges. Events that do not involve a product are ignored.
type GraphSink struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *logrus.Logger
	run      func(ctx context.Context, cypher string, params map[string]any) error
}

func NewGraphSink(driver neo4j.DriverWithContext, database string, logger *logrus.Logger) *GraphSink {
	g := &GraphSink{driver: driver, database: database, logger: logger}
	g.run = g.runWrite
	return g
}

func (g *GraphSink) Name() string { return "neo4j" }

func (g *GraphSink) Deliver(ctx context.Context, payload models.InteractionPayload) error {
	eventType := models.EventType(payload.EventName)
	rel, ok := interactionRelationships[eventType]
	if !ok {
		return nil
	}

	productIDs := []string{payload.ItemID}
	category := payload.ItemCategory
	if eventType == models.EventPurchase {
		// item id carries the order id; the products are in the items list
		productIDs = purchasedProductIDs(payload.Metadata)
		category = ""
	}

	// One edge per product
	cypher := fmt.Sprintf(interactionEdgeCypher, rel)
	for _, productID := range productIDs {
		if productID == "" {
			continue
		}
		params := map[string]any{
			"user_id":    payload.UserID,
			"product_id": productID,
			"category":   category,
			"timestamp":  payload.Timestamp,
		}
		if err := g.run(ctx, cypher, params); err != nil {
			return fmt.Errorf("failed to record %s edge: %w", rel, err)
		}
	}

	return nil
}

func (g *GraphSink) runWrite(ctx context.Context, cypher string, params map[string]any) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	return err
}

func purchasedProductIDs(metadata map[string]interface{}) []string {
	var ids []string
	switch items := metadata["items"].(type) {
	case []models.PurchaseItem:
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
	case []interface{}:
		for _, item := range items {
			if m, ok := item.(map[string]interface{}); ok {
				if id, ok := m["product_id"].(string); ok {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}
