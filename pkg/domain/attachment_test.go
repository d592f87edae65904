package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentRefDecodesLegacyShapes(t *testing.T) {
	cases := map[string]AttachmentRef{
		`"att-123"`:                                          AttachmentByID("att-123", ""),
		`"https://files.example.com/q.pdf"`:                  ExternalAttachment("", "https://files.example.com/q.pdf"),
		`"data:text/plain;base64,aGk="`:                      InlineAttachment("", "text/plain", []byte("hi")),
		`{"id":"att-9","name":"quote.pdf"}`:                  AttachmentByID("att-9", "quote.pdf"),
		`{"name":"q.txt","type":"text/plain","data":"aGk="}`: InlineAttachment("q.txt", "text/plain", []byte("hi")),
		`{"name":"sheet","url":"https://x.test/s"}`:          ExternalAttachment("sheet", "https://x.test/s"),
		`{"kind":"id","id":"att-1","name":"a"}`:              AttachmentByID("att-1", "a"),
	}
	for raw, want := range cases {
		var got AttachmentRef
		require.NoErrorf(t, json.Unmarshal([]byte(raw), &got), "decode %s", raw)
		assert.Equalf(t, want, got, "decode %s", raw)
	}
}

func TestAttachmentRefRoundTripsTaggedForm(t *testing.T) {
	ref := InlineAttachment("a.bin", "application/octet-stream", []byte{1, 2, 3})
	raw, err := json.Marshal(ref)
	require.NoError(t, err)
	var back AttachmentRef
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, ref, back)
}

func TestAttachmentRefRejectsUnknownShapes(t *testing.T) {
	var ref AttachmentRef
	assert.Error(t, json.Unmarshal([]byte(`{"name":"nothing"}`), &ref))
	assert.Error(t, json.Unmarshal([]byte(`""`), &ref))
}

func TestAttachmentRefValidate(t *testing.T) {
	assert.NoError(t, AttachmentByID("x", "").Validate())
	var verr ValidationError
	assert.True(t, errors.As(ExternalAttachment("n", "").Validate(), &verr))
	assert.Equal(t, "attachment.url", verr.Field)
	assert.Error(t, InlineAttachment("n", "text/plain", nil).Validate())
	assert.Error(t, AttachmentRef{}.Validate())
}
