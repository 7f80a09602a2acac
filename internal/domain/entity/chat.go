package entity

import (
	"time"

	"github.com/samber/lo"
)

// ProductContext attaches a conversation to one listing. Immutable after the
// chat is created.
type ProductContext struct {
	ProductID       string `json:"product_id" firestore:"productId"`
	ProductName     string `json:"product_name,omitempty" firestore:"productName,omitempty"`
	ProductImageURL string `json:"product_image_url,omitempty" firestore:"productImageUrl,omitempty"`
}

type Chat struct {
	ID             string          `json:"id" firestore:"id"`
	Participants   []string        `json:"participants" firestore:"participants"`
	ProductContext *ProductContext `json:"product_context,omitempty" firestore:"productContext,omitempty"`
	LastMessage    string          `json:"last_message" firestore:"lastMessage"`
	LastMessageAt  time.Time       `json:"last_message_at" firestore:"lastMessageAt,serverTimestamp"`
	CreatedAt      time.Time       `json:"created_at" firestore:"createdAt,serverTimestamp"`
	UpdatedAt      time.Time       `json:"updated_at" firestore:"updatedAt,serverTimestamp"`
}

func (c *Chat) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

// Counterpart returns the participant that is not userID.
func (c *Chat) Counterpart(userID string) (string, bool) {
	if !c.HasParticipant(userID) {
		return "", false
	}
	return lo.Find(c.Participants, func(p string) bool {
		return p != userID
	})
}

func (c *Chat) ProductID() string {
	if c.ProductContext == nil {
		return ""
	}
	return c.ProductContext.ProductID
}
