package store_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/abates/network-lab-runner/store"
)

type item = map[string]types.AttributeValue

// fakeDynamo is an in-memory DynamoDB covering the expressions the store
// issues. Every call returns a single page.
type fakeDynamo struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]item

	transactions int
	failScan     error
}

var _ store.Client = (*fakeDynamo)(nil)

func newFakeDynamo(cfg store.Config) *fakeDynamo {
	return &fakeDynamo{
		keys: map[string][]string{
			cfg.RelationshipTable: {"pk", "child_ref"},
			cfg.NaturalKeyTable:   {"pk", "sk"},
		},
		tables: make(map[string]map[string]item),
	}
}

func (f *fakeDynamo) keyString(table string, key item) string {
	names, ok := f.keys[table]
	if !ok {
		names = []string{"id"}
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = scalar(key[n])
	}
	return strings.Join(parts, "|")
}

func (f *fakeDynamo) table(name string) map[string]item {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]item)
		f.tables[name] = t
	}
	return t
}

// rows returns a copy of every item of a table.
func (f *fakeDynamo) rows(table string) []item {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []item
	for _, it := range f.tables[table] {
		out = append(out, maps.Clone(it))
	}
	return out
}

func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func number(av types.AttributeValue) (int64, bool) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	return v, err == nil
}

func active(it item, now int64) bool {
	ttl, ok := number(it["ttl"])
	return !ok || ttl > now
}

func (f *fakeDynamo) check(expr *string, it item, values item) error {
	if expr == nil {
		return nil
	}
	now, _ := number(values[":now"])
	_, hasTTL := it["ttl"]

	var ok bool
	switch *expr {
	case store.ActiveCondition():
		ok = it != nil && active(it, now)
	case "attribute_not_exists(pk) OR id = :id OR #ttl <= :now":
		ok = it == nil || scalar(it["id"]) == scalar(values[":id"]) || (hasTTL && !active(it, now))
	case "attribute_exists(id) AND attribute_not_exists(#ttl)", "attribute_exists(pk) AND attribute_not_exists(#ttl)":
		ok = it != nil && !hasTTL
	case "attribute_exists(pk) AND attribute_not_exists(#ttl) AND id = :id":
		ok = it != nil && !hasTTL && scalar(it["id"]) == scalar(values[":id"])
	case "id = :id":
		ok = it != nil && scalar(it["id"]) == scalar(values[":id"])
	default:
		panic("fake dynamo: unsupported condition " + *expr)
	}
	if !ok {
		return &types.ConditionalCheckFailedException{Message: aws.String(*expr)}
	}
	return nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := f.table(*in.TableName)[f.keyString(*in.TableName, in.Key)]
	if it == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(it)}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScan != nil {
		return nil, f.failScan
	}
	now, _ := number(in.ExpressionAttributeValues[":now"])
	var out []item
	for _, it := range f.table(*in.TableName) {
		if in.FilterExpression != nil && !active(it, now) {
			continue
		}
		out = append(out, maps.Clone(it))
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *in.KeyConditionExpression != "pk = :pk" {
		return nil, fmt.Errorf("fake dynamo: unsupported key condition %q", *in.KeyConditionExpression)
	}
	pk := scalar(in.ExpressionAttributeValues[":pk"])
	now, _ := number(in.ExpressionAttributeValues[":now"])
	var out []item
	for _, it := range f.table(*in.TableName) {
		if scalar(it["pk"]) != pk {
			continue
		}
		if in.FilterExpression != nil && !active(it, now) {
			continue
		}
		out = append(out, maps.Clone(it))
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(*in.TableName)
	key := f.keyString(*in.TableName, in.Key)
	it := t[key]
	if err := f.check(in.ConditionExpression, it, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	if it == nil {
		it = maps.Clone(item(in.Key))
		t[key] = it
	}
	it["ttl"] = in.ExpressionAttributeValues[":ttl"]
	if strings.Contains(*in.UpdateExpression, "#version") {
		v, _ := number(it["version"])
		it["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(v+1, 10)}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(*in.TableName)
	key := f.keyString(*in.TableName, in.Key)
	if err := f.check(in.ConditionExpression, t[key], in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	delete(t, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions++

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, op := range in.TransactItems {
		var err error
		switch {
		case op.ConditionCheck != nil:
			c := op.ConditionCheck
			err = f.check(c.ConditionExpression, f.table(*c.TableName)[f.keyString(*c.TableName, c.Key)], c.ExpressionAttributeValues)
		case op.Put != nil:
			p := op.Put
			err = f.check(p.ConditionExpression, f.table(*p.TableName)[f.keyString(*p.TableName, p.Item)], p.ExpressionAttributeValues)
		case op.Delete != nil:
			d := op.Delete
			err = f.check(d.ConditionExpression, f.table(*d.TableName)[f.keyString(*d.TableName, d.Key)], d.ExpressionAttributeValues)
		}
		code := "None"
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			code, failed = "ConditionalCheckFailed", true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, op := range in.TransactItems {
		switch {
		case op.Put != nil:
			f.table(*op.Put.TableName)[f.keyString(*op.Put.TableName, op.Put.Item)] = maps.Clone(op.Put.Item)
		case op.Delete != nil:
			delete(f.table(*op.Delete.TableName), f.keyString(*op.Delete.TableName, op.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
