package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EncodeCursor serializes a last-evaluated key into an opaque page token.
// All key attributes of the table are strings.
func EncodeCursor(lastKey map[string]types.AttributeValue) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	plain := make(map[string]string, len(lastKey))
	for name, av := range lastKey {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("store: key attribute %s is not a string", name)
		}
		plain[name] = s.Value
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor is the inverse of EncodeCursor. It only accepts the key attributes of idx.
func DecodeCursor(cursor string, idx Index) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	allowed := map[string]bool{AttrPK: true, AttrSK: true, idx.PartitionAttr: true, idx.SortAttr: true}
	if plain[AttrPK] == "" || plain[AttrSK] == "" {
		return nil, fmt.Errorf("%w: missing primary key", ErrInvalidCursor)
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for name, v := range plain {
		if !allowed[name] {
			return nil, fmt.Errorf("%w: unexpected attribute %s", ErrInvalidCursor, name)
		}
		key[name] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}
