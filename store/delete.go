package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

// Delete soft-deletes every record of c. While any record still has an
// active dependent outside c nothing is deleted and BlockedByReference is
// returned.
func (s *Store) Delete(ctx context.Context, c collection.Collection) (fixture.DeleteOutcome, error) {
	table := s.TableName(c)
	items, err := s.scan(ctx, table, true)
	if err != nil {
		return fixture.Deleted, err
	}

	within := make(map[string]bool, len(items))
	for _, it := range items {
		within[it.EntityRef] = true
	}
	for _, it := range items {
		blocked, err := s.blocked(ctx, c, it.EntityRef, within)
		if err != nil {
			return fixture.Deleted, err
		}
		if blocked {
			s.logger.Debug("delete blocked", "collection", c.Name, "record", it.EntityRef)
			return fixture.BlockedByReference, nil
		}
	}

	return fixture.Deleted, s.expireAll(ctx, table, items)
}

// DeleteRoots soft-deletes the records of c without a parent together with
// all their descendants. Descendants are expired here, deepest level first,
// rather than left to the stream handler.
func (s *Store) DeleteRoots(ctx context.Context, c collection.Collection) (fixture.DeleteOutcome, error) {
	if !c.IsHierarchical() {
		return fixture.Deleted, fmt.Errorf("%w: %s", ErrNotHierarchical, c.Name)
	}
	table := s.TableName(c)
	items, err := s.scan(ctx, table, true)
	if err != nil {
		return fixture.Deleted, err
	}

	levels, err := treeLevels(items)
	if err != nil {
		return fixture.Deleted, fmt.Errorf("%s: %w", c.Name, err)
	}
	within := make(map[string]bool)
	for _, level := range levels {
		for _, it := range level {
			within[it.EntityRef] = true
		}
	}
	for ref := range within {
		blocked, err := s.blockedBy(ctx, ref, within)
		if err != nil {
			return fixture.Deleted, err
		}
		if blocked {
			s.logger.Debug("delete blocked", "collection", c.Name, "record", ref)
			return fixture.BlockedByReference, nil
		}
	}

	for _, level := range slices.Backward(levels) {
		if err := s.expireAll(ctx, table, level); err != nil {
			return fixture.Deleted, err
		}
	}
	return fixture.Deleted, nil
}

// RawDelete removes every item of c, its natural-key claim and its
// relationship rows, without checking for dependents.
func (s *Store) RawDelete(ctx context.Context, c collection.Collection) error {
	table := s.TableName(c)
	items, err := s.scan(ctx, table, false)
	if err != nil {
		return err
	}

	for _, it := range items {
		if err := s.remove(ctx, table, it); err != nil {
			return fmt.Errorf("raw delete %s: %w", it.EntityRef, err)
		}
	}
	return nil
}

// blocked reports whether ref has an active dependent outside within.
// Collections that never reference themselves take the single-query path.
func (s *Store) blocked(ctx context.Context, c collection.Collection, ref string, within map[string]bool) (bool, error) {
	if !selfReferencing(c) {
		return s.HasActiveChildren(ctx, ref)
	}
	return s.blockedBy(ctx, ref, within)
}

func (s *Store) blockedBy(ctx context.Context, ref string, within map[string]bool) (bool, error) {
	children, err := s.QueryAllChildren(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("query dependents of %s: %w", ref, err)
	}
	for _, child := range children {
		if !child.Deleted && !within[child.Ref] {
			return true, nil
		}
	}
	return false, nil
}

func selfReferencing(c collection.Collection) bool {
	return slices.ContainsFunc(c.References, func(r collection.Reference) bool {
		return r.Target == c.Name
	})
}

func (s *Store) expireAll(ctx context.Context, table string, items []*recordItem) error {
	ttl := time.Now().Unix()
	for _, it := range items {
		if err := s.SetTTLByKey(ctx, table, it.key(), ttl); err != nil {
			return fmt.Errorf("expire %s: %w", it.EntityRef, err)
		}
		err := s.Release(ctx, Tombstone{
			ID:           it.ID,
			EntityRef:    it.EntityRef,
			Refs:         it.Refs,
			NaturalKeyPK: it.NaturalKeyPK,
			TTL:          ttl,
		})
		if err != nil {
			return fmt.Errorf("expire %s: %w", it.EntityRef, err)
		}
	}
	return nil
}

func (s *Store) remove(ctx context.Context, table string, it *recordItem) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       it.key(),
	}); err != nil {
		return err
	}

	var errs []error
	for _, target := range it.Refs {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.config.RelationshipTable),
			Key:       relationshipKey(s.relationshipPK(target, it.EntityRef), it.EntityRef),
		})
		errs = append(errs, err)
	}
	if it.NaturalKeyPK != "" {
		// Another record may have claimed the key since this one was deleted.
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(s.config.NaturalKeyTable),
			Key:                       naturalKeyKey(it.NaturalKeyPK),
			ConditionExpression:       aws.String("id = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":id": &types.AttributeValueMemberS{Value: it.ID}},
		})
		errs = append(errs, ignoreConditionFailure(err))
	}
	return errors.Join(errs...)
}

// treeLevels groups the active records by depth. A record whose parent is
// not among items counts as a root; records never reached from a root form
// a cycle.
func treeLevels(items []*recordItem) ([][]*recordItem, error) {
	present := make(map[string]bool, len(items))
	for _, it := range items {
		present[it.EntityRef] = true
	}

	var roots []*recordItem
	children := make(map[string][]*recordItem)
	for _, it := range items {
		if it.ParentRef == "" || !present[it.ParentRef] {
			roots = append(roots, it)
			continue
		}
		children[it.ParentRef] = append(children[it.ParentRef], it)
	}

	var levels [][]*recordItem
	reached := make(map[string]bool, len(items))
	for level := roots; len(level) > 0; {
		levels = append(levels, level)
		var next []*recordItem
		for _, it := range level {
			reached[it.EntityRef] = true
			next = append(next, children[it.EntityRef]...)
		}
		level = next
	}
	for _, it := range items {
		if !reached[it.EntityRef] {
			return nil, fmt.Errorf("%w at %s", collection.ErrCycle, it.EntityRef)
		}
	}
	return levels, nil
}
