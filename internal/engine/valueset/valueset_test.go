package valueset

import (
	"errors"
	"testing"

	"pulse/internal/config"
	"pulse/internal/lifecycle"
)

func testService(enforce bool) Service {
	return Service{
		Enforce: enforce,
		Sets: map[string]config.ValueSet{
			"Task.status": {Values: []string{"todo", "done"}},
			"Task.labels": {Values: []string{"api", "infra"}, Multi: true},
			"Task.owner":  {Values: []string{"alice"}, Nullable: true},
		},
	}
}

func TestValidateUnknownFieldIsNoOp(t *testing.T) {
	s := testService(true)
	if err := s.Validate("Task", "priority", "whatever"); err != nil {
		t.Fatalf("unknown field must pass: %v", err)
	}
}

func TestValidateEnforcedRejection(t *testing.T) {
	s := testService(true)
	err := s.Validate("Task", "status", "blocked")
	var vre lifecycle.ValueRejectedError
	if !errors.As(err, &vre) {
		t.Fatalf("got %T: %v", err, err)
	}
	if vre.Value != "blocked" || vre.Field != "status" {
		t.Fatalf("error fields: %+v", vre)
	}
}

func TestValidateAdvisoryModePasses(t *testing.T) {
	s := testService(false)
	if err := s.Validate("Task", "status", "blocked"); err != nil {
		t.Fatalf("advisory mode must not reject: %v", err)
	}
}

func TestValidateMultiValues(t *testing.T) {
	s := testService(true)
	if err := s.Validate("Task", "labels", "api, infra"); err != nil {
		t.Fatalf("valid multi value rejected: %v", err)
	}
	err := s.Validate("Task", "labels", "api, web, db")
	var vre lifecycle.ValueRejectedError
	if !errors.As(err, &vre) {
		t.Fatalf("got %T: %v", err, err)
	}
	if vre.Value != "web, db" {
		t.Fatalf("invalid values: %q", vre.Value)
	}
}

func TestValidateNullable(t *testing.T) {
	s := testService(true)
	if err := s.Validate("Task", "owner", "  "); err != nil {
		t.Fatalf("nullable blank must pass: %v", err)
	}
	if err := s.Validate("Task", "status", ""); err == nil {
		t.Fatal("non-nullable blank must be rejected")
	}
}
