package telegram

import (
	"fmt"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DescribeAttachments renders every non-text part of msg as one line of text.
// Turns are text only, so files are described rather than forwarded.
func DescribeAttachments(msg *tgbotapi.Message) []string {
	parts := make([]string, 0, 8)

	if doc := msg.Document; doc != nil {
		parts = append(parts, fmt.Sprintf(
			"Document: %s (%d bytes, mime %s).",
			doc.FileName, doc.FileSize, doc.MimeType,
		))
	}
	if len(msg.Photo) > 0 {
		best := msg.Photo[len(msg.Photo)-1]
		parts = append(parts, fmt.Sprintf(
			"Photo: resolution %dx%d (%d bytes).",
			best.Width, best.Height, best.FileSize,
		))
	}
	if audio := msg.Audio; audio != nil {
		parts = append(parts, fmt.Sprintf(
			"Audio: %s (%d sec, %d bytes, mime %s).",
			audio.Title, audio.Duration, audio.FileSize, audio.MimeType,
		))
	}
	if voice := msg.Voice; voice != nil {
		parts = append(parts, fmt.Sprintf(
			"Voice message: duration %d sec (%d bytes, mime %s).",
			voice.Duration, voice.FileSize, voice.MimeType,
		))
	}
	if video := msg.Video; video != nil {
		parts = append(parts, fmt.Sprintf(
			"Video: resolution %dx%d (%d sec, %d bytes, mime %s).",
			video.Width, video.Height, video.Duration, video.FileSize, video.MimeType,
		))
	}
	if note := msg.VideoNote; note != nil {
		parts = append(parts, fmt.Sprintf(
			"Video note: resolution %dx%d (%d sec, %d bytes).",
			note.Length, note.Length, note.Duration, note.FileSize,
		))
	}
	if sticker := msg.Sticker; sticker != nil {
		parts = append(parts, fmt.Sprintf(
			"Sticker received: set %s, emoji %s",
			sticker.SetName, sticker.Emoji,
		))
	}
	if animation := msg.Animation; animation != nil {
		name := animation.FileName
		if name == "" {
			name = filepath.Base(animation.FileID)
		}
		parts = append(parts, fmt.Sprintf(
			"Animation: %s (%d bytes, mime %s).",
			name, animation.FileSize, animation.MimeType,
		))
	}

	return parts
}
