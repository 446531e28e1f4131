package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	conversationIDPrefix = "conv_"
	messageIDPrefix      = "msg_"
)

var (
	conversationIDPattern = regexp.MustCompile(`^conv_[a-zA-Z0-9]{24}$`)
	messageIDPattern      = regexp.MustCompile(`^msg_[a-zA-Z0-9]{24}$`)
)

// NewConversationID generates a new conversation ID with the "conv_"
// prefix followed by 24 cryptographically random alphanumeric characters.
func NewConversationID() string {
	return conversationIDPrefix + randomAlphanumeric(idLength)
}

// NewMessageID generates a new message ID with the "msg_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewMessageID() string {
	return messageIDPrefix + randomAlphanumeric(idLength)
}

// ValidateConversationID checks whether the given string is a well-formed
// conversation ID.
func ValidateConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// ValidateMessageID checks whether the given string is a well-formed
// message ID.
func ValidateMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
