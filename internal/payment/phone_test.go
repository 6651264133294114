package payment

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		phone    string
		want     string
		wantErr  error
	}{
		{name: "mtn local", provider: ProviderMTN, phone: "0961234567", want: "260961234567"},
		{name: "mtn international", provider: ProviderMTN, phone: "+260 76 123 4567", want: "260761234567"},
		{name: "airtel bare", provider: ProviderAirtel, phone: "971234567", want: "260971234567"},
		{name: "zamtel", provider: ProviderZamtel, phone: "260951234567", want: "260951234567"},
		{name: "wrong network", provider: ProviderAirtel, phone: "0961234567", wantErr: ErrInvalidPhoneNumber},
		{name: "too short", provider: ProviderMTN, phone: "096123", wantErr: ErrInvalidPhoneNumber},
		{name: "unknown provider", provider: Provider("mpesa"), phone: "0961234567", wantErr: ErrInvalidPhoneNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.provider, tt.phone)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", ErrGatewayUnavailable, true},
		{"wrapped unavailable", errors.Join(errors.New("charge"), ErrGatewayUnavailable), true},
		{"rejected", ErrGatewayRejected, false},
		{"misconfigured", ErrGatewayMisconfigured, false},
		{"invalid phone", ErrInvalidPhoneNumber, false},
		{"version conflict", ErrVersionConflict, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
