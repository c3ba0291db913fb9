// Package signer computes Apollo's HMAC-SHA1 request authentication headers.
package signer

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"
)

// Headers holds the two headers Apollo expects on a signed request.
// A zero value (both fields empty) means "do not sign this request".
type Headers struct {
	Timestamp     string
	Authorization string
}

// Empty reports whether there are no headers to send, i.e. the secret
// used to produce these Headers was empty.
func (hd Headers) Empty() bool {
	return hd.Timestamp == "" && hd.Authorization == ""
}

// Sign computes the Timestamp/Authorization header pair for a request to
// path (including its query string), signed with secret on behalf of appID.
// An empty secret yields a zero Headers value and no headers are sent.
func Sign(secret, appID, path string) Headers {
	if secret == "" {
		return Headers{}
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	raw := ts + "\n" + path

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(raw))
	token := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return Headers{
		Timestamp:     ts,
		Authorization: "Apollo " + appID + ":" + token,
	}
}
