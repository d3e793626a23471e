package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items in memory keyed by PK/SK so round-trips behave like the table.
type fakeDynamo struct {
	items        map[string]map[string]types.AttributeValue
	getErr       error
	putErr       error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value + "|" + key["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestPutThenGet_ReturnsStoredConversation(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	require.NoError(t, c.PutConversationID(context.Background(), "15550001", "thread_abc"))

	id, found, err := c.GetConversationID(context.Background(), "15550001")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "thread_abc", id)
}

func TestGetConversationID_UnknownUser(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	id, found, err := c.GetConversationID(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, id)
}

func TestDifferentUsersDoNotCollide(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	require.NoError(t, c.PutConversationID(context.Background(), "U1", "thread_1"))
	require.NoError(t, c.PutConversationID(context.Background(), "U2", "thread_2"))

	id, _, err := c.GetConversationID(context.Background(), "U1")
	require.NoError(t, err)
	require.Equal(t, "thread_1", id)
	id, _, err = c.GetConversationID(context.Background(), "U2")
	require.NoError(t, err)
	require.Equal(t, "thread_2", id)
}

func TestPutConversationID_LastWriteWins(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	require.NoError(t, c.PutConversationID(context.Background(), "U1", "thread_old"))
	require.NoError(t, c.PutConversationID(context.Background(), "U1", "thread_new"))

	id, _, err := c.GetConversationID(context.Background(), "U1")
	require.NoError(t, err)
	require.Equal(t, "thread_new", id)
}

func TestGetConversationID_UsesConsistentReadAndKey(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	_, _, err := c.GetConversationID(context.Background(), "U1")
	require.NoError(t, err)
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "test-table", *db.lastGetInput.TableName)
	require.Equal(t, "USER#U1", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skThread, db.lastGetInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestPutConversationID_ItemShape(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, c.PutConversationID(context.Background(), "U1", "thread_1"))
	item := db.lastPutInput.Item
	require.Equal(t, "U1", item["userId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "thread_1", item["conversationId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2026-03-01T12:00:00Z", item["createdAt"].(*types.AttributeValueMemberS).Value)
	require.Nil(t, db.lastPutInput.ConditionExpression)
	_, hasTTL := item["ttl"]
	require.False(t, hasTTL)
}

func TestGetConversationID_GetItemError(t *testing.T) {
	db := newFakeDynamo()
	db.getErr = errors.New("boom")
	c := mustNewClient(t, db)
	_, _, err := c.GetConversationID(context.Background(), "U1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetConversationID")
}

func TestGetConversationID_MalformedItem(t *testing.T) {
	db := newFakeDynamo()
	db.items["USER#U1|"+skThread] = map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: "USER#U1"},
		"SK":             &types.AttributeValueMemberS{Value: skThread},
		"userId":         &types.AttributeValueMemberS{Value: "U1"},
		"conversationId": &types.AttributeValueMemberN{Value: "12"},
	}
	c := mustNewClient(t, db)
	_, _, err := c.GetConversationID(context.Background(), "U1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestPutConversationID_DynamoError(t *testing.T) {
	db := newFakeDynamo()
	db.putErr = errors.New("ProvisionedThroughputExceededException")
	c := mustNewClient(t, db)
	err := c.PutConversationID(context.Background(), "U1", "thread_1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "PutConversationID")
}

func TestPutConversationID_RequiresIDs(t *testing.T) {
	c := mustNewClient(t, newFakeDynamo())
	require.Error(t, c.PutConversationID(context.Background(), "", "thread_1"))
	require.Error(t, c.PutConversationID(context.Background(), "U1", " "))
	_, _, err := c.GetConversationID(context.Background(), "")
	require.Error(t, err)
}

func TestUserPK(t *testing.T) {
	require.Equal(t, "USER#15550001", userPK("15550001"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(newFakeDynamo(), " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
