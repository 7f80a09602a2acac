package entity

import (
	"strings"
	"time"
)

const ImagePreview = "Sent an image"

type Message struct {
	ID        string    `json:"id" firestore:"id"`
	ChatID    string    `json:"chat_id" firestore:"chatId"`
	SenderID  string    `json:"sender_id" firestore:"senderId"`
	Text      string    `json:"text" firestore:"text"`
	ImageURL  string    `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt,serverTimestamp"`
	Read      bool      `json:"read" firestore:"read"`
}

// MessageContent is what a sender supplies; at least one field must be set.
type MessageContent struct {
	Text     string
	ImageURL string
}

func (c MessageContent) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.ImageURL) == ""
}

// Preview is the text stored as the chat's last message.
func (c MessageContent) Preview() string {
	if strings.TrimSpace(c.Text) != "" {
		return c.Text
	}
	if strings.TrimSpace(c.ImageURL) != "" {
		return ImagePreview
	}
	return ""
}

func (m *Message) Preview() string {
	return MessageContent{Text: m.Text, ImageURL: m.ImageURL}.Preview()
}
