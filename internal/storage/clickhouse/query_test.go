package clickhouse

import (
	"errors"
	"testing"

	"github.com/fidde/simple_hll/pkg/hyperloglog"
	"github.com/fidde/simple_hll/pkg/models"
)

func TestColumnExpr(t *testing.T) {
	tests := []struct {
		field models.Field
		want  string
	}{
		{models.FieldUserInt, "user_int"},
		{models.FieldUserUUID, "toString(user_uuid)"},
		{models.FieldUserStr, "user_str"},
		{models.FieldUserHash, "user_hash"},
	}

	for _, tt := range tests {
		got, err := columnExpr(tt.field)
		if err != nil {
			t.Fatalf("columnExpr(%s) failed: %v", tt.field, err)
		}
		if got != tt.want {
			t.Errorf("columnExpr(%s) = %q, want %q", tt.field, got, tt.want)
		}
	}

	if _, err := columnExpr("user_int) FROM system.users --"); !errors.Is(err, models.ErrUnsupportedField) {
		t.Errorf("expected ErrUnsupportedField, got %v", err)
	}
}

func TestBuildFilter(t *testing.T) {
	expr, where, args, err := buildFilter(models.CardinalityQuery{
		Field:     models.FieldUserUUID,
		Precision: 10,
		Upper:     "00000000-0000-0000-0000-000000000009",
	})
	if err != nil {
		t.Fatalf("buildFilter failed: %v", err)
	}
	if expr != "toString(user_uuid)" || where != " WHERE toString(user_uuid) <= ?" {
		t.Errorf("unexpected filter: %q %q", expr, where)
	}
	if len(args) != 1 || args[0] != "00000000-0000-0000-0000-000000000009" {
		t.Errorf("unexpected args: %v", args)
	}

	_, where, args, err = buildFilter(models.CardinalityQuery{Field: models.FieldUserInt, Precision: 10})
	if err != nil {
		t.Fatalf("buildFilter failed: %v", err)
	}
	if where != "" || len(args) != 0 {
		t.Errorf("expected no filter, got %q %v", where, args)
	}

	_, _, _, err = buildFilter(models.CardinalityQuery{Field: models.FieldUserInt, Precision: 30})
	if !errors.Is(err, hyperloglog.ErrInvalidPrecision) {
		t.Errorf("expected ErrInvalidPrecision, got %v", err)
	}
}
