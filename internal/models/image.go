package models

import "github.com/mindgallery/gallery-api/internal/store"

// Image is the metadata item (IMG#<id> / METADATA).
// GSI4 attributes are present only while the image is public.
type Image struct {
	store.Key
	ImageID      string   `json:"imageId" dynamodbav:"imageId"`
	OwnerID      string   `json:"ownerId" dynamodbav:"ownerId"`
	Title        string   `json:"title" dynamodbav:"title"`
	Description  string   `json:"description" dynamodbav:"description"`
	S3Key        string   `json:"s3Key" dynamodbav:"s3Key"`
	IsPublic     bool     `json:"isPublic" dynamodbav:"isPublic"`
	Tags         []string `json:"tags" dynamodbav:"tags"`
	LikeCount    int64    `json:"likeCount" dynamodbav:"likeCount"`
	CommentCount int64    `json:"commentCount" dynamodbav:"commentCount"`
	CreatedAt    int64    `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`

	GSI3PK string `json:"-" dynamodbav:"GSI3PK"`
	GSI3SK string `json:"-" dynamodbav:"GSI3SK"`
	GSI4PK string `json:"-" dynamodbav:"GSI4PK,omitempty"`
	GSI4SK string `json:"-" dynamodbav:"GSI4SK,omitempty"`
}

// ImageView is an image with a short-lived download URL. ImageURL is null when the
// image has no stored object or the URL could not be signed.
type ImageView struct {
	Image
	ImageURL *string `json:"imageUrl"`
}

// ImagePage is one page of the public feed
type ImagePage struct {
	Items []ImageView `json:"items"`
	Next  *string     `json:"next"`
}

// ImageList is the caller's own gallery
type ImageList struct {
	Items []ImageView `json:"items"`
}

// Tag limits
const (
	MaxTags      = 10
	MaxTagLength = 32
)

// CreateImageRequest is the body of POST /gallery
type CreateImageRequest struct {
	Key         string   `json:"key"`
	Title       string   `json:"title" validate:"max=200"`
	Description string   `json:"description" validate:"max=2000"`
	IsPublic    bool     `json:"isPublic"`
	Tags        []string `json:"tags"`
}

// UpdateDescriptionRequest is the body of PUT /gallery/:imageId/description
type UpdateDescriptionRequest struct {
	Description string `json:"description" validate:"max=2000"`
}

// TogglePublicRequest is the body of PATCH /gallery/:imageId/toggle-public
type TogglePublicRequest struct {
	IsPublic *bool `json:"isPublic" validate:"required"`
}

type TogglePublicResponse struct {
	OK       bool `json:"ok"`
	IsPublic bool `json:"isPublic"`
}

// Like marks that a user liked an image (IMG#<id> / LIKE#<userId>)
type Like struct {
	store.Key
	ImageID   string `json:"imageId" dynamodbav:"imageId"`
	UserID    string `json:"userId" dynamodbav:"userId"`
	CreatedAt int64  `json:"createdAt" dynamodbav:"createdAt"`
}

type LikeToggleResponse struct {
	OK    bool `json:"ok"`
	Liked bool `json:"liked"`
}

type LikersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// PresignResponse carries a direct-upload URL for the object store
type PresignResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expiresIn"` // seconds
}

// OKResponse acknowledges a mutation with no other payload
type OKResponse struct {
	OK bool `json:"ok"`
}
