package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"gpt3bot/internal/domain"
)

const (
	skConversation = "CONV#"
	skRedo         = "REDO#"
	skCooldown     = "COOLDOWN#"
	pkUsage        = "USAGE"
	skUsageTotal   = "TOTAL#"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Client wraps a DynamoDB table holding per-user bot state and the usage
// counter.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// userPK returns the DynamoDB partition key for a user.
func userPK(userID string) string {
	return "USER#" + userID
}

func (c *Client) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// ttlValue returns a Unix timestamp 30 days in the future.
func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

func (c *Client) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// GetConversation returns the active conversation for userID, if any.
func (c *Client) GetConversation(ctx context.Context, userID string) (domain.Conversation, bool, error) {
	item, err := c.getItem(ctx, userPK(userID), skConversation)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if item == nil {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, true, nil
}

// PutConversation writes or replaces the conversation record.
func (c *Client) PutConversation(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.UserID) == "" {
		return errors.New("repository: PutConversation: user id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.conversationItem(conv),
	})
	if err != nil {
		return fmt.Errorf("repository: PutConversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation record. Deleting a missing
// record is not an error.
func (c *Client) DeleteConversation(ctx context.Context, userID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(userPK(userID), skConversation),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return nil
}

// GetRedo returns the last redo entry recorded for userID.
func (c *Client) GetRedo(ctx context.Context, userID string) (domain.RedoEntry, bool, error) {
	item, err := c.getItem(ctx, userPK(userID), skRedo)
	if err != nil {
		return domain.RedoEntry{}, false, fmt.Errorf("repository: GetRedo get item: %w", err)
	}
	if item == nil {
		return domain.RedoEntry{}, false, nil
	}
	entry, err := itemToRedo(item)
	if err != nil {
		return domain.RedoEntry{}, false, fmt.Errorf("repository: GetRedo decode: %w", err)
	}
	return entry, true, nil
}

// PutRedo overwrites the redo entry for entry.UserID.
func (c *Client) PutRedo(ctx context.Context, entry domain.RedoEntry) error {
	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("repository: PutRedo: user id is required")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.redoItem(entry),
	})
	if err != nil {
		return fmt.Errorf("repository: PutRedo: %w", err)
	}
	return nil
}

// TouchCooldown records now as the user's last invocation and returns the
// previous one.
func (c *Client) TouchCooldown(ctx context.Context, userID string, now time.Time) (time.Time, bool, error) {
	out, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":       &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK":       &types.AttributeValueMemberS{Value: skCooldown},
			"lastUsed": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixNano(), 10)},
			"ttl":      &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("repository: TouchCooldown: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return time.Time{}, false, nil
	}
	nanos, err := int64Attr(out.Attributes, "lastUsed")
	if err != nil {
		return time.Time{}, false, fmt.Errorf("repository: TouchCooldown decode: %w", err)
	}
	return time.Unix(0, nanos), true, nil
}

// AddUsage atomically adds tokens and cost to the cumulative usage counter.
func (c *Client) AddUsage(ctx context.Context, tokens int64, cost float64) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.key(pkUsage, skUsageTotal),
		UpdateExpression: aws.String("ADD tokens :t, cost :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberN{Value: strconv.FormatInt(tokens, 10)},
			":c": &types.AttributeValueMemberN{Value: strconv.FormatFloat(cost, 'f', -1, 64)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AddUsage: %w", err)
	}
	return nil
}

// GetUsage returns the cumulative usage counter. A missing counter is zero.
func (c *Client) GetUsage(ctx context.Context) (domain.Usage, error) {
	item, err := c.getItem(ctx, pkUsage, skUsageTotal)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("repository: GetUsage get item: %w", err)
	}
	if item == nil {
		return domain.Usage{}, nil
	}
	tokens, err := int64Attr(item, "tokens")
	if err != nil {
		return domain.Usage{}, fmt.Errorf("repository: GetUsage decode tokens: %w", err)
	}
	cost, err := floatAttr(item, "cost")
	if err != nil {
		return domain.Usage{}, fmt.Errorf("repository: GetUsage decode cost: %w", err)
	}
	return domain.Usage{Tokens: tokens, Cost: cost}, nil
}

func (c *Client) conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: userPK(conv.UserID)},
		"SK":       &types.AttributeValueMemberS{Value: skConversation},
		"userId":   &types.AttributeValueMemberS{Value: conv.UserID},
		"history":  &types.AttributeValueMemberS{Value: conv.History},
		"turns":    &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Turns)},
		"threadId": &types.AttributeValueMemberS{Value: conv.ThreadID},
		"ttl":      &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

func (c *Client) redoItem(entry domain.RedoEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(entry.UserID)},
		"SK":         &types.AttributeValueMemberS{Value: skRedo},
		"userId":     &types.AttributeValueMemberS{Value: entry.UserID},
		"prompt":     &types.AttributeValueMemberS{Value: entry.Prompt},
		"channelId":  &types.AttributeValueMemberS{Value: entry.ChannelID},
		"messageId":  &types.AttributeValueMemberS{Value: entry.MessageID},
		"responseId": &types.AttributeValueMemberS{Value: entry.ResponseID},
		"updatedAt":  &types.AttributeValueMemberS{Value: entry.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":        &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

// itemToConversation converts a DynamoDB attribute map to a Conversation.
func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Conversation{}, err
	}
	history, err := strAttr(item, "history")
	if err != nil {
		return domain.Conversation{}, err
	}
	turns, err := int64Attr(item, "turns")
	if err != nil {
		return domain.Conversation{}, err
	}
	threadID, _ := strAttr(item, "threadId") // allow empty

	return domain.Conversation{
		UserID:   userID,
		History:  history,
		Turns:    int(turns),
		ThreadID: threadID,
	}, nil
}

func itemToRedo(item map[string]types.AttributeValue) (domain.RedoEntry, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.RedoEntry{}, err
	}
	prompt, err := strAttr(item, "prompt")
	if err != nil {
		return domain.RedoEntry{}, err
	}
	channelID, err := strAttr(item, "channelId")
	if err != nil {
		return domain.RedoEntry{}, err
	}
	messageID, _ := strAttr(item, "messageId")
	responseID, _ := strAttr(item, "responseId")
	entry := domain.RedoEntry{
		UserID:     userID,
		Prompt:     prompt,
		ChannelID:  channelID,
		MessageID:  messageID,
		ResponseID: responseID,
	}
	if raw, err := strAttr(item, "updatedAt"); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			entry.UpdatedAt = ts
		}
	}
	return entry, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return n.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func floatAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
