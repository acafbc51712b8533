package ischedule

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/dav/derr"
)

// Verifier checks a parsed signature record against the buffered request
// body. Implementations may add key lookup; the default only proves body
// integrity.
type Verifier interface {
	Verify(sig *Signature, body []byte) error
}

// Validate applies the permissive signature policy: an unsigned request is
// logged and accepted, a signed one must verify.
func Validate(msg *Message, body []byte, v Verifier, logger zerolog.Logger) error {
	if msg.Signature == nil {
		logger.Info().Str("originator", msg.Originator).Msg("ischedule request unsigned, host unchecked")
		return nil
	}
	if err := v.Verify(msg.Signature, body); err != nil {
		logger.Warn().Err(err).Str("domain", msg.Signature.Domain).Msg("ischedule signature rejected")
		return derr.Forbidden(derr.TagVerificationFailed, err.Error())
	}
	return nil
}

// BodyHashVerifier proves the bh= tag matches the request body. It does not
// fetch DNS keys, so the b= tag itself stays unchecked.
type BodyHashVerifier struct{}

func (BodyHashVerifier) Verify(sig *Signature, body []byte) error {
	if sig.BodyHash == "" {
		return errors.New("signature carries no body hash")
	}

	canon := canonicalizeBody(body)
	var sum []byte
	switch {
	case strings.HasSuffix(sig.Algorithm, "sha256"), sig.Algorithm == "":
		h := sha256.Sum256(canon)
		sum = h[:]
	case strings.HasSuffix(sig.Algorithm, "sha1"):
		h := sha1.Sum(canon)
		sum = h[:]
	default:
		return errors.New("unsupported signature algorithm " + sig.Algorithm)
	}

	want, err := base64.StdEncoding.DecodeString(sig.BodyHash)
	if err != nil {
		return errors.New("undecodable body hash")
	}
	if !bytes.Equal(sum, want) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// canonicalizeBody applies simple body canonicalization: trailing empty
// lines collapse to one CRLF.
func canonicalizeBody(body []byte) []byte {
	out := body
	for bytes.HasSuffix(out, []byte("\r\n")) {
		out = out[:len(out)-2]
	}
	return append(append([]byte{}, out...), '\r', '\n')
}

// BodyHash computes the bh= value a signer would produce for body, useful
// for outbound requests and tests.
func BodyHash(body []byte) string {
	h := sha256.Sum256(canonicalizeBody(body))
	return base64.StdEncoding.EncodeToString(h[:])
}
