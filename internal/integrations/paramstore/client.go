// Package paramstore reads the bot's secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Parameter names under the configured prefix.
const (
	DiscordTokenKey = "discord-token"
	OpenAITokenKey  = "open-ai-token"
)

// ssmAPI is the part of *ssm.Client the bot uses.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the JSON shape of a stored secret.
type tokenPayload struct {
	Token string `json:"token"`
}

type Client struct {
	api    ssmAPI
	prefix string
}

// New returns a Client resolving names relative to prefix.
func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, prefix: strings.TrimRight(strings.TrimSpace(prefix), "/")}, nil
}

// Name joins key onto the client's prefix.
func (c *Client) Name(key string) string {
	return c.prefix + "/" + strings.TrimLeft(key, "/")
}

// GetParameter returns the decrypted value stored at the absolute name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	decrypt := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// Token reads the {"token": "..."} secret stored under key.
func (c *Client) Token(ctx context.Context, key string) (string, error) {
	name := c.Name(key)
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	var p tokenPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", fmt.Errorf("paramstore: decode %q: %w", name, err)
	}
	token := strings.TrimSpace(p.Token)
	if token == "" {
		return "", fmt.Errorf("paramstore: %q holds an empty token", name)
	}
	return token, nil
}
