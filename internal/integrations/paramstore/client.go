// Package paramstore reads the bot's secrets (verify token, page token, LLM
// key) from AWS SSM Parameter Store, or from memory for local runs.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Parameter names under the configured prefix.
const (
	VerifyToken = "verify_token"
	PageToken   = "page_token"
	OpenAIToken = "open-ai-token"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// Name joins prefix and key into a full parameter path.
func Name(prefix, key string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/" + strings.TrimLeft(key, "/")
}

// GetParameter returns the decrypted value of a SecureString or String parameter.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}
