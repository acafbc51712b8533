package ischedule

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calagora/caldav/internal/dav/derr"
)

func TestParseMessage(t *testing.T) {
	h := http.Header{}
	h.Set("Originator", "mailto:fred@example.com")
	h.Add("Recipient", "mailto:barney@example.org, mailto:wilma@example.org")
	h.Add("Recipient", "https://cal.example.com/principals/users/betty")
	h.Set("iSchedule-Version", "1.0")
	h.Set("iSchedule-Message-Id", "<msg-1@example.com>")
	h.Set("X-Custom", "kept")

	msg, err := Parse(h, []string{"https://cal.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "mailto:fred@example.com", msg.Originator)
	assert.Equal(t, []string{
		"mailto:barney@example.org",
		"mailto:wilma@example.org",
		"/principals/users/betty",
	}, msg.Recipients)
	assert.Equal(t, "1.0", msg.Version)
	assert.Equal(t, "<msg-1@example.com>", msg.MessageID)
	assert.Nil(t, msg.Signature)
	assert.Equal(t, "kept", msg.Headers["X-Custom"])
}

func TestParseDuplicateOriginator(t *testing.T) {
	h := http.Header{}
	h.Add("Originator", "mailto:a@example.com")
	h.Add("Originator", "mailto:b@example.com")
	_, err := Parse(h, nil)
	require.Error(t, err)
	assert.True(t, derr.Is(err, derr.KindBadRequest))
}

func TestParseSignatureRecord(t *testing.T) {
	h := http.Header{}
	h.Set("DKIM-Signature", "v=1; a=rsa-sha256; d=example.com; s=sel; h=originator:recipient; bh=abc=; b=xyz")
	msg, err := Parse(h, nil)
	require.NoError(t, err)
	require.NotNil(t, msg.Signature)
	assert.Equal(t, "1", msg.Signature.Version)
	assert.Equal(t, "rsa-sha256", msg.Signature.Algorithm)
	assert.Equal(t, "example.com", msg.Signature.Domain)
	assert.Equal(t, []string{"originator", "recipient"}, msg.Signature.HeaderList)
	assert.Equal(t, "abc=", msg.Signature.BodyHash)
}

// Unsigned requests pass validation; the permissive default is deliberate.
func TestValidateUnsigned(t *testing.T) {
	msg := &Message{Originator: "mailto:fred@example.com"}
	err := Validate(msg, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), BodyHashVerifier{}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestValidateFailingSignature(t *testing.T) {
	msg := &Message{Signature: &Signature{
		Algorithm: "rsa-sha256", Domain: "example.com", BodyHash: BodyHash([]byte("other body")),
	}}
	err := Validate(msg, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), BodyHashVerifier{}, zerolog.Nop())
	require.Error(t, err)
	de := derr.As(err)
	assert.Equal(t, derr.KindForbidden, de.Kind)
	assert.Equal(t, derr.TagVerificationFailed, de.Precondition)
}

func TestValidateGoodBodyHash(t *testing.T) {
	body := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	msg := &Message{Signature: &Signature{Algorithm: "rsa-sha256", Domain: "example.com", BodyHash: BodyHash(body)}}
	assert.NoError(t, Validate(msg, body, BodyHashVerifier{}, zerolog.Nop()))
}

// Trailing empty lines canonicalize away before hashing.
func TestBodyCanonicalization(t *testing.T) {
	assert.Equal(t, BodyHash([]byte("data\r\n")), BodyHash([]byte("data\r\n\r\n\r\n")))
	assert.Equal(t, BodyHash([]byte("data")), BodyHash([]byte("data\r\n")))
}

func TestWriteCapabilities(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCapabilities(w, DefaultCapabilities(1<<20)))
	assert.Equal(t, 200, w.Code)
	out := w.Body.String()
	assert.Contains(t, out, `xmlns="urn:ietf:params:xml:ns:ischedule"`)
	assert.Contains(t, out, `<component name="VFREEBUSY">`)
	assert.Contains(t, out, "<max-content-length>1048576</max-content-length>")
	assert.Equal(t, "1.0", w.Header().Get("iSchedule-Version"))
}
