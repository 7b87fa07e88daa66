package grpc

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// Field names used in request and response bodies.
const (
	FieldTenantID   = "tenant_id"
	FieldIdentifier = "identifier"
	FieldSecret     = "secret"
	FieldOrigin     = "origin"
	FieldToken      = "token"
	FieldTokens     = "tokens"
	FieldUser       = "user"
	FieldOnlyValid  = "only_valid"
	FieldAll        = "all"
	FieldLocators   = "locators"
	FieldRevoked    = "revoked"
)

func field(in *structpb.Struct, key string) *structpb.Value {
	if in == nil {
		return nil
	}
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	return v
}

func stringField(in *structpb.Struct, key string) string {
	return field(in, key).GetStringValue()
}

// optionalString keeps an absent or null field apart from an empty one.
func optionalString(in *structpb.Struct, key string) *string {
	v := field(in, key)
	if v == nil {
		return nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil
	}
	out := s.StringValue
	return &out
}

func optionalBool(in *structpb.Struct, key string) *bool {
	v := field(in, key)
	if v == nil {
		return nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil
	}
	out := b.BoolValue
	return &out
}

func int64Field(in *structpb.Struct, key string) (int64, error) {
	v := field(in, key)
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int64(k.NumberValue), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s is required", key)
	}
}

func stringList(in *structpb.Struct, key string) []string {
	var out []string
	for _, v := range field(in, key).GetListValue().GetValues() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out = append(out, s.StringValue)
		}
	}
	return out
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func tokenFields(t *models.Token, now time.Time) map[string]any {
	return map[string]any{
		"locator":      t.Locator,
		"universal_id": t.Owner.UniversalID(),
		"blocked":      t.Blocked,
		"expired":      t.Expired(now),
		"origin":       nullable(t.Origin),
		"ip_address":   nullable(t.IPAddress),
		"geo":          nullable(t.Geo),
		"is_static":    t.IsStatic,
		"created_at":   t.CreatedAt.UTC().Format(time.RFC3339),
		"expires_at":   t.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
