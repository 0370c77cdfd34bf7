package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

// DynamoAPI is the subset of *dynamodb.Client used by Dynamo
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

const (
	defaultBatchRetries = 5
	batchRetryBase      = 50 * time.Millisecond
)

// Dynamo implements Store on a DynamoDB table
type Dynamo struct {
	client       DynamoAPI
	table        string
	logger       *logrus.Logger
	batchRetries int
}

// NewDynamo creates a store over the given table
func NewDynamo(client DynamoAPI, table string, logger *logrus.Logger) *Dynamo {
	return &Dynamo{
		client:       client,
		table:        table,
		logger:       logger,
		batchRetries: defaultBatchRetries,
	}
}

func (d *Dynamo) Get(ctx context.Context, key Key, out any) error {
	res, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return translateError("get item", err)
	}
	if len(res.Item) == 0 {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

func (d *Dynamo) Put(ctx context.Context, item any, conds ...Condition) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	expr, err := compile(conds, nil)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(d.table),
		Item:                                av,
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	return translateError("put item", err)
}

func (d *Dynamo) Update(ctx context.Context, key Key, upd Update, out any, conds ...Condition) error {
	if upd.empty() {
		return fmt.Errorf("store: empty update for %s", key)
	}
	expr, err := compile(conds, &upd)
	if err != nil {
		return err
	}

	returnValues := types.ReturnValueNone
	if out != nil {
		returnValues = types.ReturnValueAllNew
	}

	res, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(d.table),
		Key:                                 keyAttributes(key),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValues:                        returnValues,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return translateError("update item", err)
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(res.Attributes, out); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
	}
	return nil
}

func (d *Dynamo) Delete(ctx context.Context, key Key, conds ...Condition) error {
	expr, err := compile(conds, nil)
	if err != nil {
		return err
	}

	_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           aws.String(d.table),
		Key:                                 keyAttributes(key),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	return translateError("delete item", err)
}

func (d *Dynamo) Query(ctx context.Context, q Query, out any) (string, error) {
	startKey, err := DecodeCursor(q.Cursor, q.Index)
	if err != nil {
		return "", err
	}

	keyCond := expression.Key(q.Index.PartitionAttr).Equal(expression.Value(q.Partition))
	switch {
	case q.SortEquals != "":
		keyCond = keyCond.And(expression.Key(q.Index.SortAttr).Equal(expression.Value(q.SortEquals)))
	case q.SortPrefix != "":
		keyCond = keyCond.And(expression.Key(q.Index.SortAttr).BeginsWith(q.SortPrefix))
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if q.KeysOnly {
		builder = builder.WithProjection(expression.NamesList(expression.Name(AttrPK), expression.Name(AttrSK)))
	}
	expr, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!q.Descending),
		ExclusiveStartKey:         startKey,
	}
	if q.Index.Name != "" {
		input.IndexName = aws.String(q.Index.Name)
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}

	res, err := d.client.Query(ctx, input)
	if err != nil {
		return "", translateError("query", err)
	}
	if err := attributevalue.UnmarshalListOfMaps(res.Items, out); err != nil {
		return "", fmt.Errorf("unmarshal query page: %w", err)
	}
	return EncodeCursor(res.LastEvaluatedKey)
}

func (d *Dynamo) Transact(ctx context.Context, ops ...Op) error {
	items := make([]types.TransactWriteItem, 0, len(ops))
	for i, op := range ops {
		item, err := d.transactItem(op)
		if err != nil {
			return fmt.Errorf("transaction op %d: %w", i, err)
		}
		items = append(items, item)
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return translateError("transact write", err)
}

func (d *Dynamo) transactItem(op Op) (types.TransactWriteItem, error) {
	table := aws.String(d.table)
	onFailure := types.ReturnValuesOnConditionCheckFailureAllOld

	switch o := op.(type) {
	case PutOp:
		av, err := attributevalue.MarshalMap(o.Item)
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("marshal item: %w", err)
		}
		expr, err := compile(o.Conditions, nil)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                           table,
			Item:                                av,
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil

	case UpdateOp:
		if o.Update.empty() {
			return types.TransactWriteItem{}, fmt.Errorf("store: empty update for %s", o.Key)
		}
		expr, err := compile(o.Conditions, &o.Update)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                           table,
			Key:                                 keyAttributes(o.Key),
			UpdateExpression:                    expr.Update(),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil

	case DeleteOp:
		expr, err := compile(o.Conditions, nil)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                           table,
			Key:                                 keyAttributes(o.Key),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil

	case CheckOp:
		if len(o.Conditions) == 0 {
			return types.TransactWriteItem{}, fmt.Errorf("store: condition check on %s without conditions", o.Key)
		}
		expr, err := compile(o.Conditions, nil)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                           table,
			Key:                                 keyAttributes(o.Key),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: onFailure,
		}}, nil
	}
	return types.TransactWriteItem{}, fmt.Errorf("store: unsupported op %T", op)
}

func (d *Dynamo) BatchDelete(ctx context.Context, keys []Key) error {
	for _, chunk := range chunkKeys(keys, MaxBatchSize) {
		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, k := range chunk {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: keyAttributes(k)},
			})
		}
		if err := d.batchWrite(ctx, map[string][]types.WriteRequest{d.table: requests}); err != nil {
			return err
		}
	}
	return nil
}

// batchWrite resubmits unprocessed items with exponential backoff
func (d *Dynamo) batchWrite(ctx context.Context, pending map[string][]types.WriteRequest) error {
	for attempt := 0; len(pending[d.table]) > 0; attempt++ {
		if attempt > 0 {
			if attempt > d.batchRetries {
				return fmt.Errorf("store: %d batch writes left unprocessed", len(pending[d.table]))
			}
			d.logger.WithFields(logrus.Fields{
				"attempt":     attempt,
				"unprocessed": len(pending[d.table]),
			}).Warn("Retrying unprocessed batch writes")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(batchRetryBase << (attempt - 1)):
			}
		}

		res, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return translateError("batch write", err)
		}
		pending = res.UnprocessedItems
	}
	return nil
}

func keyAttributes(k Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: k.PK},
		AttrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

// compile renders conditions and an optional update into expression strings.
// The zero Expression yields nil for every part.
func compile(conds []Condition, upd *Update) (expression.Expression, error) {
	if len(conds) == 0 && upd == nil {
		return expression.Expression{}, nil
	}

	builder := expression.NewBuilder()
	if len(conds) > 0 {
		builder = builder.WithCondition(conditionBuilder(conds))
	}
	if upd != nil {
		builder = builder.WithUpdate(updateBuilder(*upd))
	}
	expr, err := builder.Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("build expression: %w", err)
	}
	return expr, nil
}

func conditionBuilder(conds []Condition) expression.ConditionBuilder {
	var cb expression.ConditionBuilder
	for i, c := range conds {
		var next expression.ConditionBuilder
		switch c.op {
		case condExists:
			next = expression.AttributeExists(expression.Name(c.attr))
		case condNotExists:
			next = expression.AttributeNotExists(expression.Name(c.attr))
		case condEquals:
			next = expression.Name(c.attr).Equal(expression.Value(c.value))
		}
		if i == 0 {
			cb = next
		} else {
			cb = cb.And(next)
		}
	}
	return cb
}

// attribute names are sorted so the rendered expression is stable
func updateBuilder(u Update) expression.UpdateBuilder {
	var ub expression.UpdateBuilder
	for _, name := range slices.Sorted(maps.Keys(u.Set)) {
		ub = ub.Set(expression.Name(name), expression.Value(u.Set[name]))
	}
	for _, name := range u.Remove {
		ub = ub.Remove(expression.Name(name))
	}
	for _, name := range slices.Sorted(maps.Keys(u.Add)) {
		ub = ub.Add(expression.Name(name), expression.Value(u.Add[name]))
	}
	return ub
}

// translateError maps DynamoDB failures onto the store's typed outcomes
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return &ConditionFailedError{Index: 0, Exists: len(ccf.Item) > 0}
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for i, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return &ConditionFailedError{Index: i, Exists: len(reason.Item) > 0}
			}
		}
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "TransactionConflict" {
				return fmt.Errorf("%s: %w", op, ErrTransactionConflict)
			}
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: dynamodb %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
