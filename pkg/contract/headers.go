package contract

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/cuemby/xnode/pkg/types"
)

const (
	// HeaderHashPayload carries the base64 JSON change descriptor
	HeaderHashPayload = "X-Hash-Payload"

	// HeaderForceRestart asks for a restart even when nothing changed
	HeaderForceRestart = "X-Force-Restart"
)

// DecodeChangeDescriptor decodes the X-Hash-Payload header. It returns nil
// when the header is absent or malformed; callers treat that as a
// protocol version mismatch.
func DecodeChangeDescriptor(header string) *types.ChangeDescriptor {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		// Some clients strip padding
		raw, err = base64.RawStdEncoding.DecodeString(header)
		if err != nil {
			return nil
		}
	}

	var desc types.ChangeDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil
	}
	if desc.Validate() != nil {
		return nil
	}
	return &desc
}

// EncodeChangeDescriptor renders desc as an X-Hash-Payload header value
func EncodeChangeDescriptor(desc *types.ChangeDescriptor) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ParseForceRestart interprets the X-Force-Restart header
func ParseForceRestart(header string) bool {
	switch strings.TrimSpace(header) {
	case "true", "1":
		return true
	default:
		return false
	}
}
