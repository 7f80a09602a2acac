package firebase

import (
	"context"
	"fmt"
	"strings"
)

const DevTokenPrefix = "dev:"

// DevTokenVerifier accepts "dev:<uid>" tokens so the service can run against
// the embedded store without a Firebase project. Never wire it in production.
type DevTokenVerifier struct{}

func NewDevTokenVerifier() *DevTokenVerifier {
	return &DevTokenVerifier{}
}

func (DevTokenVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	uid, ok := strings.CutPrefix(token, DevTokenPrefix)
	if !ok || uid == "" || strings.ContainsAny(uid, " /") {
		return "", fmt.Errorf("not a development token")
	}
	return uid, nil
}
