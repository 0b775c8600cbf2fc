package validation

import (
	"errors"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{
			name:    "valid email",
			email:   "test@example.com",
			wantErr: false,
		},
		{
			name:    "valid email with subdomain",
			email:   "user@mail.example.com",
			wantErr: false,
		},
		{
			name:    "valid email with plus",
			email:   "user+tag@example.com",
			wantErr: false,
		},
		{
			name:    "missing @",
			email:   "testexample.com",
			wantErr: true,
		},
		{
			name:    "missing domain",
			email:   "test@",
			wantErr: true,
		},
		{
			name:    "missing local part",
			email:   "@example.com",
			wantErr: true,
		},
		{
			name:    "empty string",
			email:   "",
			wantErr: true,
		},
		{
			name:    "spaces in email",
			email:   "test @example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

type attemptPayload struct {
	SectionIndex *int     `json:"sectionIndex" validate:"required"`
	Correct      *bool    `json:"correct" validate:"required_without=Score"`
	Score        *float64 `json:"score" validate:"omitempty,min=0,max=100"`
	Email        string   `json:"email,omitempty" validate:"omitempty,email"`
}

func TestStruct(t *testing.T) {
	zero, yes := 0, true
	tooHigh, ok := 120.0, 80.0

	tests := []struct {
		name      string
		payload   attemptPayload
		wantField string
	}{
		{
			name:    "valid with correct flag",
			payload: attemptPayload{SectionIndex: &zero, Correct: &yes},
		},
		{
			name:    "valid with score only",
			payload: attemptPayload{SectionIndex: &zero, Score: &ok},
		},
		{
			name:      "missing section",
			payload:   attemptPayload{Correct: &yes},
			wantField: "sectionIndex",
		},
		{
			name:      "neither correct nor score",
			payload:   attemptPayload{SectionIndex: &zero},
			wantField: "correct",
		},
		{
			name:      "score out of range",
			payload:   attemptPayload{SectionIndex: &zero, Score: &tooHigh},
			wantField: "score",
		},
		{
			name:      "bad email",
			payload:   attemptPayload{SectionIndex: &zero, Correct: &yes, Email: "nope"},
			wantField: "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.payload)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Struct() error = %v", err)
				}
				return
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Struct() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (%s)", verr.Field, tt.wantField, verr.Message)
			}
		})
	}
}
