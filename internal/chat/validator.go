package chat

import (
	"fmt"
	"unicode/utf8"

	"github.com/whisper/relay/internal/apperr"
	"github.com/whisper/relay/internal/protocol"
)

const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
	MaxStickerURL   = 2048
)

// ValidateMessage checks a chat message of the given kind. Stickers carry a
// URL and no text; plain messages need text.
func ValidateMessage(kind, text, stickerURL string) error {
	switch kind {
	case protocol.KindSticker:
		if stickerURL == "" {
			return apperr.Validation("stickerUrl is required")
		}
		if len(stickerURL) > MaxStickerURL {
			return apperr.Validation(fmt.Sprintf("stickerUrl exceeds %d byte limit", MaxStickerURL))
		}
		return nil
	case protocol.KindMessage:
		return ValidateText(text)
	default:
		return apperr.Validation(fmt.Sprintf("unknown message type %q", kind))
	}
}

// ValidateText applies the size and encoding limits to message text.
func ValidateText(text string) error {
	if len(text) == 0 {
		return apperr.Validation("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return apperr.Validation(fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes))
	}
	if !utf8.ValidString(text) {
		return apperr.Validation("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return apperr.Validation(fmt.Sprintf("message exceeds %d character limit", MaxTextChars))
	}
	return nil
}
