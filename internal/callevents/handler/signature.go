package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// HeaderSignature carries "t=<unix>,v0=<hex hmac-sha256>" over "<t>.<body>".
const HeaderSignature = "X-Voice-Signature"

// SignatureTolerance bounds the age of a signed delivery.
const SignatureTolerance = 30 * time.Minute

var (
	errSignatureMalformed = errors.New("malformed signature header")
	errSignatureExpired   = errors.New("signature timestamp outside tolerance")
	errSignatureMismatch  = errors.New("signature mismatch")
)

// Sign returns the header value for body signed at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v0=" + hex.EncodeToString(mac(secret, t, body))
}

// VerifySignature checks a signature header against body.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v0":
			if sig, err := hex.DecodeString(value); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return errSignatureMalformed
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errSignatureMalformed
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return errSignatureExpired
	}

	expected := mac(secret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return errSignatureMismatch
}

func mac(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(ts))
	_, _ = h.Write([]byte("."))
	_, _ = h.Write(body)
	return h.Sum(nil)
}
