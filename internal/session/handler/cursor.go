package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Page cursors are the base64 form of "num:<n>", 1-indexed.

// EncodeCursor renders a page number as an opaque cursor.
func EncodeCursor(num int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("num:%d", num)))
}

// DecodeCursor parses a cursor back to its page number.
func DecodeCursor(cursor string) (int, error) {
	b, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	rest, ok := strings.CutPrefix(string(b), "num:")
	if !ok {
		return 0, fmt.Errorf("malformed cursor %q", string(b))
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("malformed cursor page number %q", rest)
	}
	return n, nil
}
