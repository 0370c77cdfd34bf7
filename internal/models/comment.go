package models

import "github.com/mindgallery/gallery-api/internal/store"

// Comment lives in its image's partition (IMG#<id> / COMMENT#<createdAt>#<commentId>).
// Clients address it by commentId plus createdAt.
type Comment struct {
	store.Key
	CommentID string `json:"commentId" dynamodbav:"commentId"`
	ImageID   string `json:"imageId" dynamodbav:"imageId"`
	AuthorID  string `json:"authorId" dynamodbav:"authorId"`
	Text      string `json:"text" dynamodbav:"text"`
	CreatedAt int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty" dynamodbav:"updatedAt,omitempty"`
}

// MaxCommentLength is the number of runes accepted in a comment
const MaxCommentLength = 1000

// CommentRequest is the body of POST and PUT /images/:imageId/comments
type CommentRequest struct {
	Text string `json:"text"`
}

type CommentResponse struct {
	OK      bool    `json:"ok"`
	Comment Comment `json:"comment"`
}

type CommentList struct {
	Items []Comment `json:"items"`
}
