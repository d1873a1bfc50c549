package gateway

import (
	"encoding/base64"
	"strings"
)

// Credentials is what a request's Authorization header yields. Any field may
// be empty; downstream stages treat an empty ClientID as "unidentified".
type Credentials struct {
	ClientID     string
	ClientSecret string
	Bearer       string
}

// ParseCredentials extracts Basic and Bearer credentials from an
// Authorization header. Entries are comma-separated so one header can carry
// both schemes. Malformed input never errors; unparseable entries are
// dropped.
func ParseCredentials(header string) Credentials {
	var creds Credentials
	for _, entry := range strings.Split(header, ", ") {
		scheme, payload, ok := strings.Cut(strings.TrimSpace(entry), " ")
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(scheme, "Basic"):
			decoded, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				continue
			}
			id, secret, _ := strings.Cut(string(decoded), ":")
			creds.ClientID = id
			creds.ClientSecret = strings.TrimSpace(secret)
		case strings.EqualFold(scheme, "Bearer"):
			creds.Bearer = payload
		}
	}
	return creds
}
