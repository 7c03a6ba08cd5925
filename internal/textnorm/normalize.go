// Package textnorm turns a raw RFC 822 message into the normalized plain text
// the payment extractor matches against.
package textnorm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
)

// Body holds the decoded text parts of a message. Each field is the
// newline-joined content of every part of that type, in document order.
type Body struct {
	HTML  string
	Plain string
}

// spaceReplacer folds non-breaking, narrow, figure and other fixed-width
// spaces into an ordinary space.
var spaceReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u202f", " ",
	"\u2007", " ",
	"\u2009", " ",
	"\u2008", " ",
	"\u200a", " ",
)

// FromMessage parses raw and returns its normalized text.
func FromMessage(raw []byte) (string, error) {
	body, err := Extract(raw)
	if err != nil {
		return "", err
	}
	return Normalize(body), nil
}

// Normalize picks the authoritative part of body and folds whitespace
// variants. HTML wins over plain text when both are present.
func Normalize(body Body) string {
	text := body.Plain
	if body.HTML != "" {
		text = stripHTML(body.HTML)
	}
	return spaceReplacer.Replace(text)
}

// Extract walks the MIME tree of raw and collects text/html and text/plain
// parts. Attachments are skipped.
func Extract(raw []byte) (Body, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return Body{}, fmt.Errorf("textnorm: read message: %w", err)
	}

	var htmlParts, plainParts []string
	walkErr := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return err
		}
		if isAttachment(part) {
			return nil
		}

		ctype, _, cerr := part.Header.ContentType()
		if cerr != nil || ctype == "" {
			ctype = "text/plain"
		}
		if ctype != "text/html" && ctype != "text/plain" {
			return nil
		}

		data, rerr := io.ReadAll(part.Body)
		if rerr != nil && len(data) == 0 {
			return nil
		}
		text := strings.ToValidUTF8(string(data), "\uFFFD")
		if ctype == "text/html" {
			htmlParts = append(htmlParts, text)
		} else {
			plainParts = append(plainParts, text)
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, io.EOF) {
		return Body{}, fmt.Errorf("textnorm: walk message: %w", walkErr)
	}

	return Body{
		HTML:  strings.Join(htmlParts, "\n"),
		Plain: strings.Join(plainParts, "\n"),
	}, nil
}

func isAttachment(part *message.Entity) bool {
	disp, _, err := part.Header.ContentDisposition()
	if err != nil {
		return strings.Contains(strings.ToLower(part.Header.Get("Content-Disposition")), "attachment")
	}
	return strings.EqualFold(disp, "attachment")
}
