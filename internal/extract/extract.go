// Package extract pulls attachment files out of raw RFC 5322 messages.
package extract

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/emailflesh/internal/model"
)

var errStopWalk = errors.New("extract: stop")

// maxNesting bounds how many forwarded messages deep the walk descends.
const maxNesting = 8

// Attachments parses the message read from r and yields every leaf part
// that carries an attachment disposition or a filename. Forwarded messages
// (message/rfc822 parts without a filename) are opened and searched the
// same way. Parts whose name is missing (or reduces to nothing once path
// elements are stripped) are dropped silently. The sequence reads r once and
// cannot be restarted.
//
// A parse failure is yielded as the final element with a zero part.
func Attachments(r io.Reader) iter.Seq2[model.AttachmentPart, error] {
	return func(yield func(model.AttachmentPart, error) bool) {
		entity, err := message.Read(r)
		if err != nil && !tolerable(err) {
			yield(model.AttachmentPart{}, fmt.Errorf("parsing message: %w", err))
			return
		}

		err = walk(entity, 0, func(att model.AttachmentPart) bool { return yield(att, nil) })
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(model.AttachmentPart{}, fmt.Errorf("walking message parts: %w", err))
		}
	}
}

// walk visits every part of entity, calling emit for each attachment. It
// returns errStopWalk once emit asks to stop.
func walk(entity *message.Entity, depth int, emit func(model.AttachmentPart) bool) error {
	return entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !tolerable(err) {
			return err
		}

		if depth < maxNesting && isForwarded(part) {
			inner, err := message.Read(part.Body)
			if err != nil && !tolerable(err) {
				return fmt.Errorf("parsing forwarded message: %w", err)
			}
			return walk(inner, depth+1, emit)
		}

		att, ok, err := attachmentFrom(part)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if !emit(att) {
			return errStopWalk
		}
		return nil
	})
}

// isForwarded reports an embedded message that has no filename of its own.
// Named message/rfc822 parts are saved as files instead.
func isForwarded(part *message.Entity) bool {
	mediaType, _, _ := part.Header.ContentType()
	return strings.EqualFold(mediaType, "message/rfc822") && partFilename(part.Header) == ""
}

// attachmentFrom decides whether a single entity is a downloadable file
// and, if so, reads its decoded payload.
func attachmentFrom(part *message.Entity) (model.AttachmentPart, bool, error) {
	mediaType, _, _ := part.Header.ContentType()
	if strings.HasPrefix(mediaType, "multipart/") {
		return model.AttachmentPart{}, false, nil
	}

	disposition, _, _ := part.Header.ContentDisposition()
	name := partFilename(part.Header)
	if !strings.EqualFold(disposition, "attachment") && name == "" {
		return model.AttachmentPart{}, false, nil
	}

	name = SafeFilename(name)
	if name == "" {
		return model.AttachmentPart{}, false, nil
	}

	payload, err := io.ReadAll(part.Body)
	if err != nil {
		return model.AttachmentPart{}, false, fmt.Errorf("reading part %q: %w", name, err)
	}

	return model.AttachmentPart{
		Filename: name,
		MIMEType: mediaType,
		Payload:  payload,
	}, true, nil
}

// partFilename returns the decoded filename from Content-Disposition or,
// failing that, the Content-Type name parameter.
func partFilename(h message.Header) string {
	ah := mail.AttachmentHeader{Header: h}
	name, err := ah.Filename()
	if err == nil {
		return strings.TrimSpace(name)
	}

	// Undecodable encoded-word: fall back to the raw parameter value.
	if _, params, perr := h.ContentDisposition(); perr == nil && params["filename"] != "" {
		return strings.TrimSpace(params["filename"])
	}
	if _, params, perr := h.ContentType(); perr == nil {
		return strings.TrimSpace(params["name"])
	}
	return ""
}

// SafeFilename reduces a sender-supplied name to a single path element so
// it cannot escape the destination folder. It returns "" for names that
// carry no usable file name.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}

// tolerable reports errors that still leave a usable entity.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
