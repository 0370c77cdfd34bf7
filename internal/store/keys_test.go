package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyConstructors(t *testing.T) {
	cases := []struct {
		name string
		got  Key
		want Key
	}{
		{"user", UserKey("u1"), Key{PK: "USER#u1", SK: "PROFILE"}},
		{"image", ImageKey("i1"), Key{PK: "IMG#i1", SK: "METADATA"}},
		{"comment", CommentKey("i1", 1700000000000, "c1"), Key{PK: "IMG#i1", SK: "COMMENT#1700000000000#c1"}},
		{"like", LikeKey("i1", "u1"), Key{PK: "IMG#i1", SK: "LIKE#u1"}},
		{"username guard", UsernameGuardKey("alice"), Key{PK: "USERNAME#alice", SK: "UNIQUE"}},
		{"email guard", EmailGuardKey("a@example.com"), Key{PK: "EMAIL#a@example.com", SK: "UNIQUE"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.got)
		})
	}

	assert.Equal(t, "OWNER#u1", OwnerIndexPK("u1"))
	assert.Equal(t, "CREATED#1700000000000#i1", CreatedSK(1700000000000, "i1"))
	assert.Equal(t, "PUBLIC#1", Tag{Kind: KindPublic, Parts: []string{"1"}}.String())
	assert.Equal(t, "COMMENT#", KindComment.Prefix())
}

func TestCreatedSK_OrdersNumerically(t *testing.T) {
	// shorter timestamps are zero padded so string order matches numeric order
	assert.Less(t, CreatedSK(999, "b"), CreatedSK(1000, "a"))
	assert.Less(t, CommentSK(5, "z"), CommentSK(10, "a"))
}

func TestParseTag_RoundTrip(t *testing.T) {
	for _, s := range []string{
		"USER#u1",
		"IMG#2b1c",
		"COMMENT#1700000000000#01HZX",
		"LIKE#u9",
		"CREATED#1700000000000#img-1",
		"EMAIL#weird#local@example.com",
	} {
		tag, err := ParseTag(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, tag.String())
	}

	tag, err := ParseTag("COMMENT#1700000000000#c1")
	require.NoError(t, err)
	assert.Equal(t, KindComment, tag.Kind)
	assert.Equal(t, []string{"1700000000000", "c1"}, tag.Parts)

	tag, err = ParseTag("EMAIL#weird#local@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"weird#local@example.com"}, tag.Parts)
}

func TestParseTag_Rejects(t *testing.T) {
	for _, s := range []string{"PROFILE", "NOPE#x", "COMMENT#123", "IMG#", "COMMENT##c1"} {
		_, err := ParseTag(s)
		assert.Error(t, err, s)
	}
}

func TestChunkKeys(t *testing.T) {
	keys := make([]Key, 30)
	for i := range keys {
		keys[i] = CommentKey("i1", int64(i), "c")
	}

	chunks := chunkKeys(keys, MaxBatchSize)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 25)
	assert.Len(t, chunks[1], 5)

	assert.Empty(t, chunkKeys(nil, MaxBatchSize))
	assert.Len(t, chunkKeys(keys[:25], MaxBatchSize), 1)
}
