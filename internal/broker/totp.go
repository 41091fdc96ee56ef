package broker

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- RFC 6238 mandates HMAC-SHA1 for TOTP interop
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpStep   = 30 * time.Second
	totpDigits = 6
)

// generateTOTP produces the 6-digit RFC 6238 code for a base32 secret at the
// given time. The broker's authenticator uses the standard 30-second step.
func generateTOTP(secret string, at time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	if normalized == "" {
		return "", fmt.Errorf("TOTP secret is empty")
	}

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(normalized, "="))
	if err != nil {
		return "", fmt.Errorf("decoding TOTP secret: %w", err)
	}

	counter := uint64(at.Unix()) / uint64(totpStep.Seconds())
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", code%1000000), nil
}
