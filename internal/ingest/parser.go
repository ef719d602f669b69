package ingest

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

type Attachment struct {
	Filename string
	Content  []byte
}

type ParsedMessage struct {
	From        string
	Subject     string
	Body        string
	Attachments []Attachment
}

// ParseMessage decodes a camera's alarm mail. Attachments keep their
// MIME part order; cameras send snapshots in capture order and the
// event record must preserve it.
func ParseMessage(r io.Reader) (*ParsedMessage, error) {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	out := &ParsedMessage{From: m.Header.Get("From")}

	dec := new(mime.WordDecoder)
	if subject, err := dec.DecodeHeader(m.Header.Get("Subject")); err == nil {
		out.Subject = subject
	} else {
		out.Subject = m.Header.Get("Subject")
	}

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil {
		// Plenty of camera firmwares send no Content-Type at all.
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := walkParts(multipart.NewReader(m.Body, params["boundary"]), out); err != nil {
			return nil, err
		}
		return out, nil
	}

	body, err := io.ReadAll(decodeTransfer(m.Body, m.Header.Get("Content-Transfer-Encoding")))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	out.Body = strings.TrimSpace(string(body))
	return out, nil
}

func walkParts(mr *multipart.Reader, out *ParsedMessage) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next part: %w", err)
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(mediaType, "multipart/") {
			if err := walkParts(multipart.NewReader(part, params["boundary"]), out); err != nil {
				return err
			}
			continue
		}

		content, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
		if err != nil {
			return fmt.Errorf("read part: %w", err)
		}

		filename := part.FileName()
		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))

		switch {
		case filename != "" || disposition == "attachment":
			if filename == "" {
				filename = syntheticName(mediaType, len(out.Attachments))
			}
			out.Attachments = append(out.Attachments, Attachment{Filename: filename, Content: content})
		case strings.HasPrefix(mediaType, "image/"), strings.HasPrefix(mediaType, "video/"):
			// Inline snapshots without a filename still count as media.
			out.Attachments = append(out.Attachments, Attachment{
				Filename: syntheticName(mediaType, len(out.Attachments)),
				Content:  content,
			})
		case strings.HasPrefix(mediaType, "text/plain") && out.Body == "":
			out.Body = strings.TrimSpace(string(content))
		}
	}
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func syntheticName(mediaType string, index int) string {
	exts, _ := mime.ExtensionsByType(mediaType)
	ext := ".bin"
	if len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("part-%d%s", index, ext)
}
