package config

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecrets struct {
	value *string
	err   error
	asked string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.ToString(in.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestApplySecret(t *testing.T) {
	secret := aws.String(`{"users":"alice#pw1&bob#pw2","openai_api_key":"sk-secret"}`)
	tests := []struct {
		name     string
		cfg      Config
		fake     *fakeSecrets
		wantErr  string
		wantKey  string
		wantUser int
	}{
		{
			name: "no secret id",
			cfg:  Config{},
			fake: &fakeSecrets{err: errors.New("must not be called")},
		},
		{
			name:     "fills missing values",
			cfg:      Config{SecretID: "checkin/prod"},
			fake:     &fakeSecrets{value: secret},
			wantKey:  "sk-secret",
			wantUser: 2,
		},
		{
			name:     "keeps configured values",
			cfg:      Config{SecretID: "checkin/prod", Users: []string{"carol#pw"}, OpenAI: OpenAIConfig{APIKey: "sk-local"}},
			fake:     &fakeSecrets{value: secret},
			wantKey:  "sk-local",
			wantUser: 1,
		},
		{
			name:    "read failure",
			cfg:     Config{SecretID: "checkin/prod"},
			fake:    &fakeSecrets{err: errors.New("access denied")},
			wantErr: "access denied",
		},
		{
			name:    "binary secret",
			cfg:     Config{SecretID: "checkin/prod"},
			fake:    &fakeSecrets{},
			wantErr: "no string value",
		},
		{
			name:    "bad json",
			cfg:     Config{SecretID: "checkin/prod"},
			fake:    &fakeSecrets{value: aws.String("alice#pw")},
			wantErr: "not valid JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cfg
			err := c.ApplySecret(context.Background(), tt.fake)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplySecret: %v", err)
			}
			if c.OpenAI.APIKey != tt.wantKey {
				t.Errorf("api key = %q, want %q", c.OpenAI.APIKey, tt.wantKey)
			}
			if tt.wantUser > 0 {
				if tt.fake.asked != "checkin/prod" {
					t.Errorf("asked for %q", tt.fake.asked)
				}
				accounts, err := c.Accounts()
				if err != nil || len(accounts) != tt.wantUser {
					t.Errorf("accounts = %+v, %v", accounts, err)
				}
			}
		})
	}
}
