package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretGetter is the part of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretPayload is the JSON stored in the secret. Users uses the same
// "name#password&name#password" form as CHECKIN_USERS.
type secretPayload struct {
	Users        string `json:"users"`
	OpenAIAPIKey string `json:"openai_api_key"`
}

// NewSecretsClient creates a Secrets Manager client for region, falling
// back to AWS_REGION and then us-east-1.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// ApplySecret reads c.SecretID and fills the users and OpenAI key from it.
// Values already configured are kept. It is a no-op without a secret id.
func (c *Config) ApplySecret(ctx context.Context, client SecretGetter) error {
	if c.SecretID == "" {
		return nil
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(c.SecretID),
	})
	if err != nil {
		return fmt.Errorf("failed to read secret %s: %w", c.SecretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", c.SecretID)
	}

	var p secretPayload
	if err := json.Unmarshal([]byte(*out.SecretString), &p); err != nil {
		return fmt.Errorf("secret %s is not valid JSON: %w", c.SecretID, err)
	}
	if len(c.Users) == 0 && p.Users != "" {
		c.Users = []string{p.Users}
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = p.OpenAIAPIKey
	}
	return nil
}

// ResolveSecret applies c.SecretID using a client for the configured region.
func (c *Config) ResolveSecret(ctx context.Context) error {
	if c.SecretID == "" {
		return nil
	}
	client, err := NewSecretsClient(ctx, c.S3.Region)
	if err != nil {
		return err
	}
	return c.ApplySecret(ctx, client)
}
