package stream

import (
	"slices"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// --- getStringAttr Tests ---

func TestGetStringAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected string
	}{
		{"string", map[string]events.DynamoDBAttributeValue{"entity_ref": events.NewStringAttribute("dcim.location#site-a")}, "dcim.location#site-a"},
		{"missing key", map[string]events.DynamoDBAttributeValue{"other": events.NewStringAttribute("x")}, ""},
		{"nil image", nil, ""},
		{"empty value", map[string]events.DynamoDBAttributeValue{"entity_ref": events.NewStringAttribute("")}, ""},
		{"number attribute", map[string]events.DynamoDBAttributeValue{"entity_ref": events.NewNumberAttribute("12")}, ""},
		{"null attribute", map[string]events.DynamoDBAttributeValue{"entity_ref": events.NewNullAttribute()}, ""},
		{"unicode", map[string]events.DynamoDBAttributeValue{"entity_ref": events.NewStringAttribute("tenancy.tenant#日本")}, "tenancy.tenant#日本"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getStringAttr(tt.image, "entity_ref"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected int64
	}{
		{"number", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("1704067200")}, 1704067200},
		{"zero", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("0")}, 0},
		{"negative", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("-5")}, -5},
		{"max int64", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("9223372036854775807")}, 9223372036854775807},
		{"decimal", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("1.5")}, 0},
		{"string attribute", map[string]events.DynamoDBAttributeValue{"ttl": events.NewStringAttribute("1704067200")}, 0},
		{"missing key", map[string]events.DynamoDBAttributeValue{}, 0},
		{"nil image", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getNumberAttr(tt.image, "ttl"); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

// --- getStringListAttr Tests ---

func TestGetStringListAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected []string
	}{
		{
			name: "list",
			image: map[string]events.DynamoDBAttributeValue{"_refs": events.NewListAttribute([]events.DynamoDBAttributeValue{
				events.NewStringAttribute("dcim.locationtype#site"),
				events.NewStringAttribute("tenancy.tenant#lab"),
			})},
			expected: []string{"dcim.locationtype#site", "tenancy.tenant#lab"},
		},
		{
			name: "mixed list keeps strings",
			image: map[string]events.DynamoDBAttributeValue{"_refs": events.NewListAttribute([]events.DynamoDBAttributeValue{
				events.NewStringAttribute("a"),
				events.NewNumberAttribute("1"),
				events.NewNullAttribute(),
				events.NewStringAttribute("b"),
			})},
			expected: []string{"a", "b"},
		},
		{
			name:     "string set",
			image:    map[string]events.DynamoDBAttributeValue{"_refs": events.NewStringSetAttribute([]string{"a", "b"})},
			expected: []string{"a", "b"},
		},
		{
			name:     "empty list",
			image:    map[string]events.DynamoDBAttributeValue{"_refs": events.NewListAttribute(nil)},
			expected: nil,
		},
		{
			name:     "string attribute",
			image:    map[string]events.DynamoDBAttributeValue{"_refs": events.NewStringAttribute("a")},
			expected: nil,
		},
		{"missing key", map[string]events.DynamoDBAttributeValue{}, nil},
		{"nil image", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := getStringListAttr(tt.image, "_refs")
			if !slices.Equal(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// --- tableFromARN Tests ---

func TestTableFromARN(t *testing.T) {
	tests := []struct {
		arn  string
		want string
	}{
		{"arn:aws:dynamodb:us-east-1:123456789012:table/lab1-dcim_location/stream/2024-01-01T00:00:00.000", "lab1-dcim_location"},
		{"arn:aws:dynamodb:us-east-1:123456789012:table/tenancy_tenant", "tenancy_tenant"},
		{"arn:aws:sqs:us-east-1:123456789012:queue", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := tableFromARN(tt.arn); got != tt.want {
			t.Errorf("tableFromARN(%q): expected %q, got %q", tt.arn, tt.want, got)
		}
	}
}

// --- ConvertStreamKey Tests ---

func TestConvertStreamKey(t *testing.T) {
	key := ConvertStreamKey(map[string]events.DynamoDBAttributeValue{
		"pk":      events.NewStringAttribute("dcim.location#site-a#00"),
		"sk":      events.NewStringAttribute(""),
		"version": events.NewNumberAttribute("-1.5"),
		"blob":    events.NewBinaryAttribute([]byte{0xff, 0x00}),
		"flag":    events.NewBooleanAttribute(true),
	})

	if len(key) != 4 {
		t.Fatalf("expected 4 key attributes, got %d", len(key))
	}
	if v, ok := key["pk"].(*types.AttributeValueMemberS); !ok || v.Value != "dcim.location#site-a#00" {
		t.Errorf("expected pk string, got %#v", key["pk"])
	}
	if v, ok := key["sk"].(*types.AttributeValueMemberS); !ok || v.Value != "" {
		t.Errorf("expected empty sk string, got %#v", key["sk"])
	}
	if v, ok := key["version"].(*types.AttributeValueMemberN); !ok || v.Value != "-1.5" {
		t.Errorf("expected version number, got %#v", key["version"])
	}
	if v, ok := key["blob"].(*types.AttributeValueMemberB); !ok || !slices.Equal(v.Value, []byte{0xff, 0x00}) {
		t.Errorf("expected blob binary, got %#v", key["blob"])
	}
	if _, ok := key["flag"]; ok {
		t.Error("expected boolean attribute to be dropped")
	}
}

func TestConvertStreamKey_Empty(t *testing.T) {
	for _, in := range []map[string]events.DynamoDBAttributeValue{nil, {}} {
		key := ConvertStreamKey(in)
		if key == nil || len(key) != 0 {
			t.Errorf("expected empty non-nil key, got %#v", key)
		}
	}
}

// --- Benchmark Tests ---

func BenchmarkGetStringListAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"_refs": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("dcim.locationtype#site"),
			events.NewStringAttribute("tenancy.tenant#lab"),
			events.NewStringAttribute("dcim.location#site-a"),
		}),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringListAttr(image, "_refs")
	}
}
