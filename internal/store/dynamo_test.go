package store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo records inputs and replays canned outputs
type fakeDynamo struct {
	putInput      *dynamodb.PutItemInput
	updateInput   *dynamodb.UpdateItemInput
	queryInputs   []*dynamodb.QueryInput
	transactInput *dynamodb.TransactWriteItemsInput
	batchInputs   []*dynamodb.BatchWriteItemInput

	err          error
	queryOutput  *dynamodb.QueryOutput
	batchOutputs []*dynamodb.BatchWriteItemOutput
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{}, f.err
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInput = in
	return &dynamodb.PutItemOutput{}, f.err
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInput = in
	return &dynamodb.UpdateItemOutput{}, f.err
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, f.err
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryOutput == nil {
		return &dynamodb.QueryOutput{}, f.err
	}
	return f.queryOutput, f.err
}

func (f *fakeDynamo) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transactInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.err
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchInputs = append(f.batchInputs, in)
	if len(f.batchOutputs) == 0 {
		return &dynamodb.BatchWriteItemOutput{}, f.err
	}
	out := f.batchOutputs[0]
	f.batchOutputs = f.batchOutputs[1:]
	return out, f.err
}

func newTestDynamo(f *fakeDynamo) *Dynamo {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewDynamo(f, "MindGallery", logger)
}

func TestDynamo_PutRendersCondition(t *testing.T) {
	f := &fakeDynamo{}
	d := newTestDynamo(f)

	require.NoError(t, d.Put(context.Background(), testItem{Key: UserKey("u1")}, NotExists()))
	require.NotNil(t, f.putInput)
	assert.Equal(t, "MindGallery", aws.ToString(f.putInput.TableName))
	assert.Contains(t, aws.ToString(f.putInput.ConditionExpression), "attribute_not_exists")
	assert.Contains(t, f.putInput.ExpressionAttributeNames, "#0")
	assert.Equal(t, &types.AttributeValueMemberS{Value: "USER#u1"}, f.putInput.Item[AttrPK])

	// no condition renders no expression at all
	require.NoError(t, d.Put(context.Background(), testItem{Key: UserKey("u2")}))
	assert.Nil(t, f.putInput.ConditionExpression)
	assert.Nil(t, f.putInput.ExpressionAttributeNames)
}

func TestDynamo_UpdateRendersSetRemoveAdd(t *testing.T) {
	f := &fakeDynamo{}
	d := newTestDynamo(f)

	err := d.Update(context.Background(), ImageKey("i1"), Update{
		Set:    map[string]any{"isPublic": false},
		Remove: []string{AttrGSI4PK, AttrGSI4SK},
		Add:    map[string]int64{"likeCount": 1},
	}, nil, Equals(AttrGSI3PK, OwnerIndexPK("u1")))
	require.NoError(t, err)

	expr := aws.ToString(f.updateInput.UpdateExpression)
	assert.Contains(t, expr, "SET")
	assert.Contains(t, expr, "REMOVE")
	assert.Contains(t, expr, "ADD")
	assert.Equal(t, types.ReturnValueNone, f.updateInput.ReturnValues)
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, f.updateInput.ReturnValuesOnConditionCheckFailure)

	assert.Error(t, d.Update(context.Background(), ImageKey("i1"), Update{}, nil))
}

func TestDynamo_TranslatesConditionalCheckFailed(t *testing.T) {
	f := &fakeDynamo{err: &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
		Item:    map[string]types.AttributeValue{AttrPK: &types.AttributeValueMemberS{Value: "IMG#i1"}},
	}}
	d := newTestDynamo(f)

	err := d.Delete(context.Background(), ImageKey("i1"), Exists())
	cf, ok := AsConditionFailed(err)
	require.True(t, ok)
	assert.True(t, cf.Exists)

	f.err = &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	err = d.Delete(context.Background(), ImageKey("i1"), Exists())
	cf, ok = AsConditionFailed(err)
	require.True(t, ok)
	assert.False(t, cf.Exists)
}

func TestDynamo_TranslatesTransactionCancellation(t *testing.T) {
	f := &fakeDynamo{err: &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}}
	d := newTestDynamo(f)

	err := d.Transact(context.Background(),
		PutOp{Item: testItem{Key: LikeKey("i1", "u1")}, Conditions: []Condition{NotExists()}},
		UpdateOp{Key: ImageKey("i1"), Update: Update{Add: map[string]int64{"likeCount": 1}}, Conditions: []Condition{Exists()}},
	)
	cf, ok := AsConditionFailed(err)
	require.True(t, ok)
	assert.Equal(t, 1, cf.Index)
	assert.False(t, cf.Exists)

	require.Len(t, f.transactInput.TransactItems, 2)
	assert.NotNil(t, f.transactInput.TransactItems[0].Put)
	assert.NotNil(t, f.transactInput.TransactItems[1].Update)

	f.err = &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("TransactionConflict")}, {Code: aws.String("None")}},
	}
	err = d.Transact(context.Background(), DeleteOp{Key: LikeKey("i1", "u1")}, CheckOp{Key: ImageKey("i1"), Conditions: []Condition{Exists()}})
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.False(t, errors.Is(err, ErrConditionFailed))
}

func TestDynamo_TransactRejectsUnconditionedCheck(t *testing.T) {
	d := newTestDynamo(&fakeDynamo{})
	err := d.Transact(context.Background(), CheckOp{Key: ImageKey("i1")})
	assert.Error(t, err)
}

func TestDynamo_WrapsAPIErrors(t *testing.T) {
	f := &fakeDynamo{err: &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}}
	d := newTestDynamo(f)

	err := d.Get(context.Background(), UserKey("u1"), &testItem{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProvisionedThroughputExceededException")
	assert.Equal(t, "error", Outcome(err))
}

func TestDynamo_GetMissingIsNotFound(t *testing.T) {
	d := newTestDynamo(&fakeDynamo{})
	assert.ErrorIs(t, d.Get(context.Background(), UserKey("u1"), &testItem{}), ErrNotFound)
}

func TestDynamo_QueryCursorRoundTrip(t *testing.T) {
	lastKey := map[string]types.AttributeValue{
		AttrPK:     &types.AttributeValueMemberS{Value: "IMG#i3"},
		AttrSK:     &types.AttributeValueMemberS{Value: SKMetadata},
		AttrGSI4PK: &types.AttributeValueMemberS{Value: PublicIndexPK},
		AttrGSI4SK: &types.AttributeValueMemberS{Value: CreatedSK(3, "i3")},
	}
	f := &fakeDynamo{queryOutput: &dynamodb.QueryOutput{LastEvaluatedKey: lastKey}}
	d := newTestDynamo(f)

	var page []testItem
	next, err := d.Query(context.Background(), Query{Index: PublicIndex, Partition: PublicIndexPK, Descending: true, Limit: 20}, &page)
	require.NoError(t, err)
	require.NotEmpty(t, next)

	first := f.queryInputs[0]
	assert.Equal(t, "GSI4", aws.ToString(first.IndexName))
	assert.False(t, aws.ToBool(first.ScanIndexForward))
	assert.Equal(t, int32(20), aws.ToInt32(first.Limit))
	assert.Nil(t, first.ExclusiveStartKey)

	_, err = d.Query(context.Background(), Query{Index: PublicIndex, Partition: PublicIndexPK, Cursor: next}, &page)
	require.NoError(t, err)
	assert.Equal(t, lastKey, f.queryInputs[1].ExclusiveStartKey)

	// a cursor from a different index is rejected
	_, err = d.Query(context.Background(), Query{Index: OwnerIndex, Partition: OwnerIndexPK("u1"), Cursor: next}, &page)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestDynamo_BatchDeleteRetriesUnprocessed(t *testing.T) {
	unprocessed := map[string][]types.WriteRequest{
		"MindGallery": {{DeleteRequest: &types.DeleteRequest{Key: keyAttributes(CommentKey("i1", 1, "c"))}}},
	}
	f := &fakeDynamo{batchOutputs: []*dynamodb.BatchWriteItemOutput{
		{UnprocessedItems: unprocessed},
		{},
	}}
	d := newTestDynamo(f)

	keys := make([]Key, 30)
	for i := range keys {
		keys[i] = CommentKey("i1", int64(i), "c")
	}
	require.NoError(t, d.BatchDelete(context.Background(), keys))

	// first chunk needs one retry, second chunk goes through at once
	require.Len(t, f.batchInputs, 3)
	assert.Len(t, f.batchInputs[0].RequestItems["MindGallery"], 25)
	assert.Len(t, f.batchInputs[1].RequestItems["MindGallery"], 1)
	assert.Len(t, f.batchInputs[2].RequestItems["MindGallery"], 5)
}

func TestDynamo_BatchDeleteGivesUp(t *testing.T) {
	unprocessed := map[string][]types.WriteRequest{
		"MindGallery": {{DeleteRequest: &types.DeleteRequest{Key: keyAttributes(CommentKey("i1", 1, "c"))}}},
	}
	f := &fakeDynamo{batchOutputs: []*dynamodb.BatchWriteItemOutput{
		{UnprocessedItems: unprocessed},
		{UnprocessedItems: unprocessed},
	}}
	d := newTestDynamo(f)
	d.batchRetries = 1

	err := d.BatchDelete(context.Background(), []Key{CommentKey("i1", 1, "c")})
	assert.Error(t, err)
}
