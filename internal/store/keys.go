package store

import (
	"fmt"
	"strings"
)

// Attribute names of the single table and its secondary indexes
const (
	AttrPK     = "PK"
	AttrSK     = "SK"
	AttrGSI1PK = "GSI1PK"
	AttrGSI1SK = "GSI1SK"
	AttrGSI2PK = "GSI2PK"
	AttrGSI2SK = "GSI2SK"
	AttrGSI3PK = "GSI3PK"
	AttrGSI3SK = "GSI3SK"
	AttrGSI4PK = "GSI4PK"
	AttrGSI4SK = "GSI4SK"
)

// Fixed sort keys
const (
	SKProfile  = "PROFILE"
	SKMetadata = "METADATA"
	SKUnique   = "UNIQUE"
)

const tagSeparator = "#"

// Kind is the entity prefix of a tagged key segment
type Kind string

const (
	KindUser     Kind = "USER"
	KindImage    Kind = "IMG"
	KindComment  Kind = "COMMENT"
	KindLike     Kind = "LIKE"
	KindUsername Kind = "USERNAME"
	KindEmail    Kind = "EMAIL"
	KindOwner    Kind = "OWNER"
	KindPublic   Kind = "PUBLIC"
	KindCreated  Kind = "CREATED"
)

// number of parts following the kind; the last part absorbs any further separators
var kindArity = map[Kind]int{
	KindUser:     1,
	KindImage:    1,
	KindComment:  2,
	KindLike:     1,
	KindUsername: 1,
	KindEmail:    1,
	KindOwner:    1,
	KindPublic:   1,
	KindCreated:  2,
}

// Tag is the decoded form of an overloaded key such as IMG#<id> or COMMENT#<ts>#<id>.
type Tag struct {
	Kind  Kind
	Parts []string
}

// String encodes the tag as KIND#part#part
func (t Tag) String() string {
	var b strings.Builder
	b.WriteString(string(t.Kind))
	for _, p := range t.Parts {
		b.WriteString(tagSeparator)
		b.WriteString(p)
	}
	return b.String()
}

// Prefix returns KIND# for begins_with sort key queries
func (k Kind) Prefix() string {
	return string(k) + tagSeparator
}

// ParseTag decodes an encoded key segment.
func ParseTag(s string) (Tag, error) {
	kind, rest, ok := strings.Cut(s, tagSeparator)
	if !ok {
		return Tag{}, fmt.Errorf("store: key %q has no kind separator", s)
	}
	arity, known := kindArity[Kind(kind)]
	if !known {
		return Tag{}, fmt.Errorf("store: unknown key kind %q", kind)
	}
	parts := strings.SplitN(rest, tagSeparator, arity)
	if len(parts) != arity {
		return Tag{}, fmt.Errorf("store: key %q: want %d parts, got %d", s, arity, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Tag{}, fmt.Errorf("store: key %q has an empty part", s)
		}
	}
	return Tag{Kind: Kind(kind), Parts: parts}, nil
}

// Key is the primary key of an item
type Key struct {
	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`
}

func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// FormatMillis renders a unix-millisecond timestamp so that sort keys order numerically.
func FormatMillis(ms int64) string {
	return fmt.Sprintf("%013d", ms)
}

func tag(kind Kind, parts ...string) string {
	return Tag{Kind: kind, Parts: parts}.String()
}

// UserKey is the profile item of a user
func UserKey(userID string) Key {
	return Key{PK: tag(KindUser, userID), SK: SKProfile}
}

// ImagePartition holds the metadata, comments and likes of one image
func ImagePartition(imageID string) string {
	return tag(KindImage, imageID)
}

// ImageKey is the metadata item of an image
func ImageKey(imageID string) Key {
	return Key{PK: ImagePartition(imageID), SK: SKMetadata}
}

// CommentSK embeds the creation time so comments sort chronologically
func CommentSK(createdAt int64, commentID string) string {
	return tag(KindComment, FormatMillis(createdAt), commentID)
}

func CommentKey(imageID string, createdAt int64, commentID string) Key {
	return Key{PK: ImagePartition(imageID), SK: CommentSK(createdAt, commentID)}
}

func LikeKey(imageID, userID string) Key {
	return Key{PK: ImagePartition(imageID), SK: tag(KindLike, userID)}
}

// UsernameGuardKey reserves a username. Written in the same transaction as the profile.
func UsernameGuardKey(username string) Key {
	return Key{PK: UsernameIndexPK(username), SK: SKUnique}
}

// EmailGuardKey reserves an email address
func EmailGuardKey(email string) Key {
	return Key{PK: EmailIndexPK(email), SK: SKUnique}
}

func UsernameIndexPK(username string) string {
	return tag(KindUsername, username)
}

func EmailIndexPK(email string) string {
	return tag(KindEmail, email)
}

func OwnerIndexPK(ownerID string) string {
	return tag(KindOwner, ownerID)
}

// PublicIndexPK is the single partition of the public feed
const PublicIndexPK = "PUBLIC#1"

// CreatedSK orders owner and public index entries by time, newest last
func CreatedSK(createdAt int64, imageID string) string {
	return tag(KindCreated, FormatMillis(createdAt), imageID)
}

// Index describes the table or one of its global secondary indexes
type Index struct {
	Name          string
	PartitionAttr string
	SortAttr      string
}

var (
	TableIndex    = Index{Name: "", PartitionAttr: AttrPK, SortAttr: AttrSK}
	UsernameIndex = Index{Name: "GSI1", PartitionAttr: AttrGSI1PK, SortAttr: AttrGSI1SK}
	EmailIndex    = Index{Name: "GSI2", PartitionAttr: AttrGSI2PK, SortAttr: AttrGSI2SK}
	OwnerIndex    = Index{Name: "GSI3", PartitionAttr: AttrGSI3PK, SortAttr: AttrGSI3SK}
	PublicIndex   = Index{Name: "GSI4", PartitionAttr: AttrGSI4PK, SortAttr: AttrGSI4SK}
)
