package xmbox

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Delimiter separates the sender from the content on the wire.
const Delimiter = "|"

// Message is one decoded wire message.
type Message struct {
	Sender  string
	Content string
	Type    Type
}

// IsEmpty is the "no message" check. A peer may legitimately send the EMPTY
// token, which carries a sender and so is not empty.
func (m Message) IsEmpty() bool {
	return m.Type == TypeEmpty && m.Sender == "" && m.Content == ""
}

func (m Message) String() string {
	return fmt.Sprintf("{%s %q %s}", m.Sender, m.Content, m.Type)
}

// Decode splits raw on the first delimiter and classifies the content.
func Decode(raw string) (Message, error) {
	i := strings.Index(raw, Delimiter)
	if i < 0 {
		return Message{}, errors.Wrapf(ErrMalformed, "no delimiter in %q", raw)
	}
	if i == 0 {
		return Message{}, errors.Wrapf(ErrMalformed, "empty sender in %q", raw)
	}
	content := raw[i+len(Delimiter):]
	return Message{Sender: raw[:i], Content: content, Type: Classify(content)}, nil
}

func Encode(sender, content string) string {
	return sender + Delimiter + content
}

// Validate checks that sender and content survive Decode and fit in maxSize bytes.
// maxSize <= 0 skips the size check.
func Validate(sender, content string, maxSize int) error {
	switch {
	case sender == "":
		return errors.Wrap(ErrMalformed, "empty sender")
	case strings.Contains(sender, Delimiter):
		return errors.Wrapf(ErrMalformed, "sender %q contains delimiter", sender)
	case content == "":
		return errors.Wrap(ErrMalformed, "empty content")
	case strings.IndexByte(content, 0) >= 0:
		return errors.Wrap(ErrMalformed, "content contains NUL")
	}
	if n := len(sender) + len(Delimiter) + len(content); maxSize > 0 && n > maxSize {
		return errors.Wrapf(ErrMessageTooLong, "%d > %d", n, maxSize)
	}
	return nil
}

// checkPayload rejects user content that would be read as a handshake reply.
func checkPayload(content string) error {
	switch Classify(content) {
	case TypeRTS, TypeCTS, TypeHold, TypeAck:
		return errors.Wrapf(ErrReservedContent, "%q", content)
	}
	return nil
}
