package service

import (
	"encoding/base64"
	"strconv"

	"tradepost/internal/model"
)

// Thread pagination cursors are opaque to clients: a base64 wrapping of the
// last seen sequence position.

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, model.ErrInvalidArgument
	}

	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq < 0 {
		return 0, model.ErrInvalidArgument
	}
	return seq, nil
}
