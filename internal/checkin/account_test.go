package checkin

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseAccounts(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		want    []Account
		wantErr string
	}{
		{
			name:   "single",
			values: []string{"alice#pw1"},
			want:   []Account{{"alice", "pw1"}},
		},
		{
			name:   "ampersand joined",
			values: []string{"alice#pw1&bob#pw2"},
			want:   []Account{{"alice", "pw1"}, {"bob", "pw2"}},
		},
		{
			name:   "list with blanks and spaces",
			values: []string{" alice#pw1 ", "", "bob#pw2&"},
			want:   []Account{{"alice", "pw1"}, {"bob", "pw2"}},
		},
		{
			name:   "password containing hash",
			values: []string{"carol#a#b"},
			want:   []Account{{"carol", "a#b"}},
		},
		{
			name:    "missing password",
			values:  []string{"alice"},
			wantErr: "expected name#password",
		},
		{
			name:    "empty password",
			values:  []string{"alice#"},
			wantErr: "alice#***",
		},
		{
			name:    "nothing configured",
			values:  []string{"", " & "},
			wantErr: "no accounts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAccounts(tt.values)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAccountsNeverEchoesPassword(t *testing.T) {
	_, err := ParseAccounts([]string{"#hunter2"})
	if err == nil || strings.Contains(err.Error(), "hunter2") {
		t.Errorf("err = %v", err)
	}
}

func TestParsePoints(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "12345", want: 12345},
		{in: " 12,345 积分 ", want: 12345},
		{in: "\n\t800\n", want: 800},
		{in: "--", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePoints(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePoints(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePoints(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestResultValue(t *testing.T) {
	r := Result{Points: 5000, Status: StatusSuccess}
	if r.Value() != 2.5 {
		t.Errorf("Value() = %v, want 2.5", r.Value())
	}
	if !r.Succeeded() {
		t.Error("Succeeded() = false")
	}
}
