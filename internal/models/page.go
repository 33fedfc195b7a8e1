package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidCursor is returned for cursors that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor marks the last top-level comment of a page. Top-level comments are
// ordered by likes descending then id ascending, so (Likes, ID) is enough to
// resume after it.
type Cursor struct {
	Likes int
	ID    uint
}

// Page selects a window of top-level comments. Limit 0 means unbounded.
type Page struct {
	Limit int
	After *Cursor
}

// Encode returns the opaque form of c handed to clients.
func (c Cursor) Encode() string {
	raw := strconv.Itoa(c.Likes) + ":" + strconv.FormatUint(uint64(c.ID), 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by Cursor.Encode. An empty string
// yields a nil cursor.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	likesPart, idPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, ErrInvalidCursor
	}
	likes, err := strconv.Atoi(likesPart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Likes: likes, ID: uint(id)}, nil
}
