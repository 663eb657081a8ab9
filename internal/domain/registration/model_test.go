package registration

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	future := now.AddDate(1, 0, 0)

	cases := []struct {
		name      string
		in        SubmitInput
		wantField string
	}{
		{"valid", SubmitInput{Name: "Asha Rao", DOB: &dob, Phone: "9876543210"}, ""},
		{"valid with formatting", SubmitInput{Name: "Asha Rao", DOB: &dob, Phone: "98765-43210"}, ""},
		{"blank name", SubmitInput{Name: "   ", DOB: &dob, Phone: "9876543210"}, "name"},
		{"missing dob", SubmitInput{Name: "Asha Rao", Phone: "9876543210"}, "dob"},
		{"future dob", SubmitInput{Name: "Asha Rao", DOB: &future, Phone: "9876543210"}, "dob"},
		{"short phone", SubmitInput{Name: "Asha Rao", DOB: &dob, Phone: "98765"}, "phone"},
		{"long phone", SubmitInput{Name: "Asha Rao", DOB: &dob, Phone: "98765432101"}, "phone"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate(now)
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if ve.Field != tc.wantField {
				t.Fatalf("field = %q, want %q", ve.Field, tc.wantField)
			}
		})
	}
}

func TestToRequestNormalizesPhone(t *testing.T) {
	dob := time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)
	in := SubmitInput{Name: "Asha Rao", DOB: &dob, Phone: "98765-43210", Location: "clinic-a"}

	req := in.toRequest("corr-1")
	if req.Phone != "9876543210" {
		t.Fatalf("phone = %q, want digits only", req.Phone)
	}
	if req.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q, want corr-1", req.CorrelationID)
	}
	if req.Location != "clinic-a" {
		t.Fatalf("location = %q, want clinic-a", req.Location)
	}
}
