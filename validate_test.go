package srouter

import (
	"errors"
	"testing"
)

func TestValidatorFirstErrorOnly(t *testing.T) {
	var v Validator
	e1 := errors.New("first")
	e2 := errors.New("second")
	v.AddError(e1)
	v.AddError(e2)
	if !errors.Is(v.Err(), e1) {
		t.Fatalf("expected only first error kept, got %v", v.Err())
	}
}

func TestValidatorAllowMultiErrs(t *testing.T) {
	v := NewValidator(true)
	e1 := errors.New("first")
	e2 := errors.New("second")
	v.AddError(e1)
	v.AddError(e2)
	err := v.Err()
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestValidatorResetAndPop(t *testing.T) {
	var v Validator
	if v.HasError() {
		t.Fatal("fresh validator should have no error")
	}
	v.AddError(errors.New("boom"))
	if !v.HasError() {
		t.Fatal("expected HasError true after AddError")
	}
	err := v.ErrPop()
	if err == nil {
		t.Fatal("expected non-nil error from ErrPop")
	}
	if v.HasError() {
		t.Fatal("ErrPop should reset the validator")
	}
}
