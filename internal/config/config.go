package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMAPI is the slice of the SSM client used for secret resolution.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func NewSSMClient(ctx context.Context) (*ssm.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(cfg), nil
}

func ShopDomain() (string, error) {
	shop := strings.ToLower(strings.TrimSpace(os.Getenv("SHOPIFY_SHOP_DOMAIN")))
	if shop == "" {
		return "", errors.New("SHOPIFY_SHOP_DOMAIN not set")
	}
	return shop, nil
}

func APIVersion() string {
	v := strings.TrimSpace(os.Getenv("SHOPIFY_API_VERSION"))
	if v == "" {
		v = "2026-01"
	}
	return v
}

// resolveSecret reads envName first; when empty it falls back to the SSM
// SecureString parameter named by paramEnvName.
func resolveSecret(ctx context.Context, client SSMAPI, envName, paramEnvName string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v, nil
	}

	param := strings.TrimSpace(os.Getenv(paramEnvName))
	if param == "" {
		return "", fmt.Errorf("neither %s nor %s is set", envName, paramEnvName)
	}

	if client == nil {
		c, err := NewSSMClient(ctx)
		if err != nil {
			return "", err
		}
		client = c
	}

	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get %s: %w", param, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || strings.TrimSpace(*out.Parameter.Value) == "" {
		return "", fmt.Errorf("ssm parameter %s is empty", param)
	}
	return *out.Parameter.Value, nil
}

// AccessToken returns the Shopify Admin API token.
func AccessToken(ctx context.Context, client SSMAPI) (string, error) {
	return resolveSecret(ctx, client, "SHOPIFY_ACCESS_TOKEN", "SHOPIFY_ACCESS_TOKEN_PARAM")
}

// WebhookSecret returns the shared secret webhook HMACs are computed with.
func WebhookSecret(ctx context.Context, client SSMAPI) (string, error) {
	return resolveSecret(ctx, client, "SHOPIFY_WEBHOOK_SECRET", "SHOPIFY_WEBHOOK_SECRET_PARAM")
}
