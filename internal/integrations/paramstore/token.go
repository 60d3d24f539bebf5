package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// tokenPayload is the JSON shape used for secrets stored in SSM.
type tokenPayload struct {
	Token string `json:"token"`
}

// Token reads a secret stored either as {"token": "..."} or as a bare string.
func Token(ctx context.Context, g Getter, name string) (string, error) {
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: decode token %q: %w", name, err)
		}
		raw = tp.Token
	}
	if raw == "" {
		return "", errors.New("paramstore: token " + name + " is empty")
	}
	return raw, nil
}
