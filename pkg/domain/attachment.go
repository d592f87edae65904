package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// AttachmentKind tags the variant held by an AttachmentRef.
type AttachmentKind string

// Attachment reference variants.
const (
	AttachmentByIDKind     AttachmentKind = "id"
	AttachmentInlineKind   AttachmentKind = "inline"
	AttachmentExternalKind AttachmentKind = "external"
)

// AttachmentRef is the tagged union ById(id) | Inline(bytes, mime) |
// External(url). Only the fields of the active variant are set.
type AttachmentRef struct {
	Kind     AttachmentKind `json:"kind"`
	Name     string         `json:"name,omitempty"`
	ID       string         `json:"id,omitempty"`
	MimeType string         `json:"mimeType,omitempty"`
	Data     []byte         `json:"data,omitempty"`
	URL      string         `json:"url,omitempty"`
}

// AttachmentByID references a blob held by the attachment store.
func AttachmentByID(id, name string) AttachmentRef {
	return AttachmentRef{Kind: AttachmentByIDKind, ID: id, Name: name}
}

// InlineAttachment carries the attachment content in the record itself.
func InlineAttachment(name, mime string, data []byte) AttachmentRef {
	return AttachmentRef{Kind: AttachmentInlineKind, Name: name, MimeType: mime, Data: data}
}

// ExternalAttachment references content hosted elsewhere.
func ExternalAttachment(name, url string) AttachmentRef {
	return AttachmentRef{Kind: AttachmentExternalKind, Name: name, URL: url}
}

// Validate checks that the active variant carries its payload.
func (r AttachmentRef) Validate() error {
	switch r.Kind {
	case AttachmentByIDKind:
		if r.ID == "" {
			return ValidationError{Field: "attachment.id", Message: "id reference requires an id"}
		}
	case AttachmentInlineKind:
		if len(r.Data) == 0 {
			return ValidationError{Field: "attachment.data", Message: "inline attachment requires content"}
		}
	case AttachmentExternalKind:
		if r.URL == "" {
			return ValidationError{Field: "attachment.url", Message: "external attachment requires a url"}
		}
	default:
		return ValidationError{Field: "attachment.kind", Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	return nil
}

type attachmentRefJSON AttachmentRef

// legacyAttachment matches the loosely shaped objects found in imported
// collections.
type legacyAttachment struct {
	Kind     AttachmentKind `json:"kind"`
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	MimeType string         `json:"mimeType"`
	Data     string         `json:"data"`
	Content  string         `json:"content"`
	URL      string         `json:"url"`
}

// UnmarshalJSON accepts the tagged form as well as the legacy shapes: a bare
// id string, a URL string, a data URI, or an object carrying one of id, url
// or base64 data.
func (r *AttachmentRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		ref, err := attachmentFromString("", s)
		if err != nil {
			return err
		}
		*r = ref
		return nil
	}
	var probe struct {
		Kind AttachmentKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Kind != "" {
		var tagged attachmentRefJSON
		if err := json.Unmarshal(data, &tagged); err != nil {
			return err
		}
		*r = AttachmentRef(tagged)
		return nil
	}
	var legacy legacyAttachment
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}
	mime := legacy.MimeType
	if mime == "" {
		mime = legacy.Type
	}
	payload := legacy.Data
	if payload == "" {
		payload = legacy.Content
	}
	switch {
	case payload != "":
		ref, err := attachmentFromString(legacy.Name, payload)
		if err != nil {
			return err
		}
		if ref.Kind == AttachmentByIDKind {
			raw, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				return fmt.Errorf("decode inline attachment %q: %w", legacy.Name, err)
			}
			ref = InlineAttachment(legacy.Name, mime, raw)
		}
		if ref.MimeType == "" {
			ref.MimeType = mime
		}
		*r = ref
	case legacy.URL != "":
		*r = ExternalAttachment(legacy.Name, legacy.URL)
	case legacy.ID != "":
		*r = AttachmentByID(legacy.ID, legacy.Name)
	default:
		return fmt.Errorf("unrecognised attachment reference: %s", string(data))
	}
	return nil
}

func attachmentFromString(name, s string) (AttachmentRef, error) {
	switch {
	case strings.HasPrefix(s, "data:"):
		header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
		if !ok {
			return AttachmentRef{}, fmt.Errorf("malformed data uri attachment")
		}
		mime, encoding, _ := strings.Cut(header, ";")
		if encoding != "base64" {
			return InlineAttachment(name, mime, []byte(payload)), nil
		}
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return AttachmentRef{}, fmt.Errorf("decode data uri attachment: %w", err)
		}
		return InlineAttachment(name, mime, raw), nil
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "blob:"):
		return ExternalAttachment(name, s), nil
	case s == "":
		return AttachmentRef{}, fmt.Errorf("empty attachment reference")
	default:
		return AttachmentByID(s, name), nil
	}
}
