package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"dailyledger/internal/core"
)

// encodeList stores a string list as JSON text; empty lists become NULL.
func encodeList(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode list: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

// payloadItem is the at-rest form of a snapshot payload entry.
type payloadItem struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Quantity        *string  `json:"quantity,omitempty"`
	Price           float64  `json:"price"`
	Categories      []string `json:"categories,omitempty"`
	IsDone          bool     `json:"is_done"`
	TimestampMillis int64    `json:"timestamp_millis"`
	ImageRefs       []string `json:"image_refs,omitempty"`
}

func encodePayload(items []core.LineItem) (string, error) {
	rows := make([]payloadItem, len(items))
	for i, it := range items {
		rows[i] = payloadItem{
			ID:              it.ID,
			Name:            it.Name,
			Quantity:        it.Quantity,
			Price:           it.Price,
			Categories:      it.Categories,
			IsDone:          it.IsDone,
			TimestampMillis: it.TimestampMillis,
			ImageRefs:       it.ImageRefs,
		}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(s string) ([]core.LineItem, error) {
	var rows []payloadItem
	if s != "" {
		if err := json.Unmarshal([]byte(s), &rows); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	items := make([]core.LineItem, len(rows))
	for i, r := range rows {
		cats := r.Categories
		if cats == nil {
			cats = []string{}
		}
		items[i] = core.LineItem{
			ID: r.ID,
			Descriptor: core.Descriptor{
				Name:       r.Name,
				Quantity:   r.Quantity,
				Price:      r.Price,
				Categories: cats,
			},
			IsDone:          r.IsDone,
			TimestampMillis: r.TimestampMillis,
			ImageRefs:       r.ImageRefs,
		}
	}
	return items, nil
}
