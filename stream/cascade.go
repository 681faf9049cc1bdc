// Package stream propagates soft deletes through fixture tables from
// DynamoDB Streams events.
//
// When a record item gains a TTL, every item that references it is given the
// same TTL, and the relationship rows and natural-key claim the record holds
// are released. Each dependent's own TTL change arrives as a new stream
// event, so the cascade walks the reference graph one level per event.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/abates/network-lab-runner/store"
)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events to propagate TTL to
// dependents. It is meant to run as an AWS Lambda handler subscribed to the
// streams of the collection tables.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	// Relationship and natural-key rows carry no entity_ref.
	entityRef := getStringAttr(record.Change.NewImage, "entity_ref")
	if entityRef == "" {
		return nil
	}

	table := tableFromARN(record.EventSourceArn)
	key := ConvertStreamKey(record.Change.Keys)
	if table == "" || len(key) == 0 {
		return fmt.Errorf("stream record %s: missing source table or key", record.EventID)
	}

	// The record may have been reloaded since the TTL was set; its rows
	// and dependents then belong to the new record.
	superseded, err := h.store.Superseded(ctx, table, key, newTTL)
	if err != nil {
		return fmt.Errorf("reread %s: %w", entityRef, err)
	}
	if superseded {
		h.logger.Info("skipping superseded cascade delete",
			"entityRef", entityRef,
			"ttl", newTTL,
		)
		return nil
	}

	tomb := store.Tombstone{
		ID:           getStringAttr(record.Change.NewImage, "id"),
		EntityRef:    entityRef,
		Refs:         getStringListAttr(record.Change.NewImage, "_refs"),
		NaturalKeyPK: getStringAttr(record.Change.NewImage, "natural_key_pk"),
		TTL:          newTTL,
	}

	h.logger.Info("processing cascade delete",
		"entityRef", entityRef,
		"ttl", newTTL,
	)

	children, err := h.store.QueryAllChildren(ctx, entityRef)
	if err != nil {
		return fmt.Errorf("query dependents: %w", err)
	}

	expired := 0
	for _, child := range children {
		if child.Deleted {
			continue
		}
		if err := h.store.SetTTLByKey(ctx, child.TableName, child.Key, newTTL); err != nil {
			h.logger.Warn("failed to set TTL on dependent",
				"child", child.Ref,
				"error", err,
			)
			continue
		}
		expired++
	}

	if err := h.store.Release(ctx, tomb); err != nil {
		h.logger.Warn("failed to release record rows",
			"entityRef", entityRef,
			"error", err,
		)
	}

	h.logger.Info("cascade delete completed",
		"entityRef", entityRef,
		"dependents", len(children),
		"expired", expired,
		"refs", len(tomb.Refs),
	)

	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeNumber {
		n, _ := strconv.ParseInt(v.Number(), 10, 64)
		return n
	}
	return 0
}

// getStringListAttr extracts the strings of a list or string set attribute.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	v, ok := image[key]
	if !ok {
		return nil
	}
	switch v.DataType() {
	case events.DataTypeList:
		var result []string
		for _, item := range v.List() {
			if item.DataType() == events.DataTypeString {
				result = append(result, item.String())
			}
		}
		return result
	case events.DataTypeStringSet:
		return v.StringSet()
	}
	return nil
}

// tableFromARN returns the table name of a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/dcim_location/stream/2024-01-01T00:00:00.000.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// ConvertStreamKey converts a DynamoDB stream key to a store.PK.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	result := make(store.PK)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
