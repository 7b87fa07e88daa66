package models

import (
	"testing"
	"time"
)

func TestProject_Functional(t *testing.T) {
	tests := []struct {
		p    Project
		want bool
	}{
		{Project{Status: ProjectActive}, true},
		{Project{Status: ProjectActive, OnHold: true}, false},
		{Project{Status: ProjectReview}, false},
		{Project{Status: ProjectBlocked}, false},
		{Project{Status: ProjectSuspended}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Functional(); got != tt.want {
			t.Fatalf("%+v Functional() = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestToken_Expired(t *testing.T) {
	exp := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tok := &Token{ExpiresAt: exp}
	if tok.Expired(exp.Add(-time.Second)) {
		t.Fatalf("token must be valid before expiry")
	}
	if !tok.Expired(exp) {
		t.Fatalf("token must be expired at expiry instant")
	}
}
