package hlsd

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid hls token")
	ErrExpiredToken = errors.New("hls token expired")
)

// KeyProvider facilitates kid-based secret lookup
type KeyProvider interface {
	GetKey(kid string) ([]byte, error)
}

// MapKeyProvider is a simple implementation of KeyProvider
type MapKeyProvider struct {
	Keys map[string][]byte
}

func (p *MapKeyProvider) GetKey(kid string) ([]byte, error) {
	key, ok := p.Keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid: %s", kid)
	}
	return key, nil
}

// ValidatePlaybackToken checks the HMAC playback token on a live
// stream request. Canonical string: hls|{camera_id}|{exp}
func ValidatePlaybackToken(cameraID string, query url.Values, keys KeyProvider) error {
	sub := query.Get("sub")
	expStr := query.Get("exp")
	kid := query.Get("kid")
	sigHex := query.Get("sig")

	if sub != cameraID || kid == "" || sigHex == "" {
		return ErrInvalidToken
	}

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}

	if time.Now().Unix() > exp {
		return ErrExpiredToken
	}

	key, err := keys.GetKey(kid)
	if err != nil {
		return ErrInvalidToken
	}

	canonical := fmt.Sprintf("hls|%s|%s", sub, expStr)

	h := hmac.New(sha256.New, key)
	h.Write([]byte(canonical))
	expectedSig := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(sigHex), []byte(expectedSig)) {
		return ErrInvalidToken
	}

	return nil
}

// SignPlaybackURL builds the token query string for a camera stream.
func SignPlaybackURL(cameraID, kid string, key []byte, ttl time.Duration) url.Values {
	exp := time.Now().Add(ttl).Unix()
	canonical := fmt.Sprintf("hls|%s|%d", cameraID, exp)

	v := url.Values{}
	v.Set("sub", cameraID)
	v.Set("exp", strconv.FormatInt(exp, 10))
	v.Set("kid", kid)
	v.Set("sig", Sign(canonical, key))
	return v
}

// Sign helper for tests and token generation
func Sign(data string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
