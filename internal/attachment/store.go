// Package attachment stores vendor and submission documents in a blob
// backend and resolves AttachmentRef values to their content.
//
// Layout inside the blob store:
//
//	attachments/{id}          the document bytes
//	owners/{ownerID}/{id}     empty index marker used by ListByOwner
package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bidflow/internal/blob"
	"bidflow/pkg/domain"
)

const (
	blobPrefix  = "attachments/"
	ownerPrefix = "owners/"

	metaName       = "name"
	metaOwner      = "owner"
	metaUploadedBy = "uploaded-by"
)

// Attachment describes a stored document.
type Attachment struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size"`
	ETag       string    `json:"etag,omitempty"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Ref returns the by-id reference records embed.
func (a Attachment) Ref() domain.AttachmentRef { return domain.AttachmentByID(a.ID, a.Name) }

// Content is a resolved attachment. Data is empty for external references;
// URL is empty when the backend cannot sign URLs.
type Content struct {
	Name     string
	MimeType string
	Data     []byte
	URL      string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator overrides attachment ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithURLExpiry sets the lifetime of presigned download URLs.
func WithURLExpiry(d time.Duration) Option {
	return func(s *Store) { s.urlExpiry = d }
}

// Store is the attachment store.
type Store struct {
	blobs     blob.Store
	logger    *zap.Logger
	newID     func() string
	urlExpiry time.Duration
}

// New wraps a blob store.
func New(blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a document for ownerID and returns its metadata.
func (s *Store) Save(ctx context.Context, ownerID, name, mimeType string, r io.Reader, actor string) (Attachment, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Attachment{}, domain.ValidationError{Field: "ownerId", Message: "owner is required"}
	}
	if strings.TrimSpace(name) == "" {
		return Attachment{}, domain.ValidationError{Field: "name", Message: "file name is required"}
	}
	if strings.Contains(ownerID, "/") {
		return Attachment{}, domain.ValidationError{Field: "ownerId", Message: "owner must not contain '/'"}
	}
	id := s.newID()
	info, err := s.blobs.Put(ctx, blobPrefix+id, r, blob.PutOptions{
		ContentType: mimeType,
		Metadata:    map[string]string{metaName: name, metaOwner: ownerID, metaUploadedBy: actor},
	})
	if err != nil {
		return Attachment{}, domain.StorageError{Op: "save attachment", Err: err}
	}
	if _, err := s.blobs.Put(ctx, ownerPrefix+ownerID+"/"+id, bytes.NewReader(nil), blob.PutOptions{}); err != nil {
		if _, cleanupErr := s.blobs.Delete(ctx, blobPrefix+id); cleanupErr != nil {
			s.logger.Warn("orphaned attachment blob", zap.String("attachmentId", id), zap.Error(cleanupErr))
		}
		return Attachment{}, domain.StorageError{Op: "index attachment", Err: err}
	}
	att := fromInfo(id, info)
	s.logger.Info("attachment saved",
		zap.String("attachmentId", id), zap.String("owner", ownerID), zap.Int64("size", att.Size))
	return att, nil
}

// Get opens a stored document. Unknown ids return domain.NotFoundError.
func (s *Store) Get(ctx context.Context, id string) (Attachment, io.ReadCloser, error) {
	info, rc, err := s.blobs.Get(ctx, blobPrefix+id)
	if err != nil {
		return Attachment{}, nil, s.mapErr("get attachment", id, err)
	}
	return fromInfo(id, info), rc, nil
}

// Stat returns document metadata.
func (s *Store) Stat(ctx context.Context, id string) (Attachment, error) {
	info, err := s.blobs.Stat(ctx, blobPrefix+id)
	if err != nil {
		return Attachment{}, s.mapErr("stat attachment", id, err)
	}
	return fromInfo(id, info), nil
}

// Delete removes a document. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	info, err := s.blobs.Stat(ctx, blobPrefix+id)
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return domain.StorageError{Op: "delete attachment", Err: err}
	}
	if owner := info.Metadata[metaOwner]; owner != "" {
		if _, err := s.blobs.Delete(ctx, ownerPrefix+owner+"/"+id); err != nil {
			return domain.StorageError{Op: "delete attachment index", Err: err}
		}
	}
	if _, err := s.blobs.Delete(ctx, blobPrefix+id); err != nil {
		return domain.StorageError{Op: "delete attachment", Err: err}
	}
	s.logger.Info("attachment deleted", zap.String("attachmentId", id))
	return nil
}

// ListByOwner returns the documents indexed under ownerID, sorted by id.
// Index markers whose blob has vanished are skipped.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Attachment, error) {
	prefix := ownerPrefix + ownerID + "/"
	markers, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, domain.StorageError{Op: "list attachments", Err: err}
	}
	out := make([]Attachment, 0, len(markers))
	for _, m := range markers {
		id := strings.TrimPrefix(m.Key, prefix)
		att, err := s.Stat(ctx, id)
		var nf domain.NotFoundError
		if errors.As(err, &nf) {
			s.logger.Warn("dangling attachment index", zap.String("owner", ownerID), zap.String("attachmentId", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

// Resolve turns a reference into content. By-id references are read from
// the store and carry a presigned URL when the backend supports it.
func (s *Store) Resolve(ctx context.Context, ref domain.AttachmentRef) (Content, error) {
	if err := ref.Validate(); err != nil {
		return Content{}, err
	}
	switch ref.Kind {
	case domain.AttachmentInlineKind:
		return Content{Name: ref.Name, MimeType: ref.MimeType, Data: bytes.Clone(ref.Data)}, nil
	case domain.AttachmentExternalKind:
		return Content{Name: ref.Name, URL: ref.URL}, nil
	}

	att, rc, err := s.Get(ctx, ref.ID)
	if err != nil {
		return Content{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Content{}, domain.StorageError{Op: "read attachment", Err: err}
	}
	name := ref.Name
	if name == "" {
		name = att.Name
	}
	content := Content{Name: name, MimeType: att.MimeType, Data: data}
	url, err := s.blobs.PresignURL(ctx, blobPrefix+ref.ID, blob.SignedURLOptions{Expiry: s.urlExpiry})
	switch {
	case err == nil:
		content.URL = url
	case !errors.Is(err, blob.ErrUnsupported):
		s.logger.Warn("presign attachment failed", zap.String("attachmentId", ref.ID), zap.Error(err))
	}
	return content, nil
}

func (s *Store) mapErr(op, id string, err error) error {
	if errors.Is(err, blob.ErrNotFound) {
		return domain.NotFoundError{Entity: domain.EntityAttachment, ID: id}
	}
	return domain.StorageError{Op: op, Err: fmt.Errorf("%s: %w", id, err)}
}

func fromInfo(id string, info blob.Info) Attachment {
	return Attachment{
		ID:         id,
		OwnerID:    info.Metadata[metaOwner],
		Name:       info.Metadata[metaName],
		MimeType:   info.ContentType,
		Size:       info.Size,
		ETag:       info.ETag,
		UploadedBy: info.Metadata[metaUploadedBy],
		UploadedAt: info.LastModified,
	}
}
