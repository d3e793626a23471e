package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"wa-assistant-bridge/internal/domain"
)

const skThread = "THREAD#"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SessionStore maps WhatsApp users to assistant conversation ids.
type SessionStore interface {
	GetConversationID(ctx context.Context, userID string) (string, bool, error)
	PutConversationID(ctx context.Context, userID, conversationID string) error
	Close() error
}

// Client stores sessions in a DynamoDB table. Item-level atomicity is the only
// protection between concurrent writers; writes for the same user are last-write-wins.
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

// userPK returns the DynamoDB partition key for a WhatsApp user.
func userPK(userID string) string {
	return "USER#" + userID
}

func sessionKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK": &types.AttributeValueMemberS{Value: skThread},
	}
}

// GetConversationID returns the stored conversation id for userID. found is
// false when the user has never been seen.
func (c *Client) GetConversationID(ctx context.Context, userID string) (string, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return "", false, errors.New("repository: GetConversationID: user id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            sessionKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: GetConversationID get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}

	sess, err := itemToSession(out.Item)
	if err != nil {
		return "", false, fmt.Errorf("repository: GetConversationID decode: %w", err)
	}
	return sess.ConversationID, true, nil
}

// PutConversationID writes the session for userID, replacing any previous value.
func (c *Client) PutConversationID(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: PutConversationID: user id and conversation id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: sessionItem(domain.Session{
			UserID:         userID,
			ConversationID: conversationID,
			CreatedAt:      c.now().UTC(),
		}),
	})
	if err != nil {
		return fmt.Errorf("repository: PutConversationID: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client has no per-store resources.
func (c *Client) Close() error { return nil }

func sessionItem(s domain.Session) map[string]types.AttributeValue {
	item := sessionKey(s.UserID)
	item["userId"] = &types.AttributeValueMemberS{Value: s.UserID}
	item["conversationId"] = &types.AttributeValueMemberS{Value: s.ConversationID}
	item["createdAt"] = &types.AttributeValueMemberS{Value: s.CreatedAt.Format(time.RFC3339)}
	return item
}

// itemToSession converts a DynamoDB attribute map to a Session.
func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Session{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Session{}, err
	}
	if convID == "" {
		return domain.Session{}, errors.New("repository: attribute \"conversationId\" is empty")
	}
	sess := domain.Session{UserID: userID, ConversationID: convID}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		sess.CreatedAt, _ = time.Parse(time.RFC3339, raw) // allow legacy items without a timestamp
	}
	return sess, nil
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
