package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is one chat message stored under the search term that triggered its
// indexing. Rows are immutable once written; the search term is unique across
// all messages, so a term is indexed exactly once.
type Message struct {
	ID         int64  `db:"id" json:"id"`
	SearchTerm string `db:"search_term" json:"search_term"`
	Author     string `db:"author" json:"author"`
	Channel    string `db:"channel" json:"channel"`
	Content    string `db:"content" json:"content"`
	CreatedAt  string `db:"created_at" json:"created_at"`
	JumpURL    string `db:"jump_url" json:"jump_url"`
}

// IncomingMessage is the wire shape of a message inside an INDEX request body.
// The search term is carried by the enclosing batch key, not by the message.
type IncomingMessage struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	JumpURL   string `json:"jump_url"`
}

// Location is a normalized place record sourced from the business lookup.
// Optional fields are nil when the source had no value (missing key, empty
// string or empty list); they are never stored as empty strings.
type Location struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Alias       *string    `db:"alias" json:"alias"`
	ImageURL    *string    `db:"image_url" json:"image_url"`
	LookupURL   string     `db:"lookup_url" json:"lookup_url"`
	Latitude    float64    `db:"latitude" json:"latitude"`
	Longitude   float64    `db:"longitude" json:"longitude"`
	Rating      float64    `db:"rating" json:"rating"`
	ReviewCount int64      `db:"review_count" json:"review_count"`
	Price       *string    `db:"price" json:"price"`
	Phone       *string    `db:"phone" json:"phone"`
	Address1    *string    `db:"address1" json:"address1"`
	Address2    *string    `db:"address2" json:"address2"`
	Address3    *string    `db:"address3" json:"address3"`
	City        string     `db:"city" json:"city"`
	ZipCode     string     `db:"zip_code" json:"zip_code"`
	Categories  []Category `db:"-" json:"categories,omitempty"`
}

// Category is one (location, category) pair with an optional display alias.
type Category struct {
	LocationID string  `db:"location_id" json:"-"`
	Category   string  `db:"category" json:"category"`
	Alias      *string `db:"alias" json:"alias"`
}

// TermGroup is one search term with the messages filed under it.
type TermGroup struct {
	Term     string
	Messages []IncomingMessage
}

// IndexBatch is the body of an INDEX request: search term -> ordered messages.
// It decodes from a JSON object while preserving the order of its keys, which
// is the processing order for the batch.
type IndexBatch []TermGroup

func (b *IndexBatch) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("index batch: expected JSON object, got %v", tok)
	}

	out := IndexBatch{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		term, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("index batch: non-string key %v", keyTok)
		}
		var msgs []IncomingMessage
		if err := dec.Decode(&msgs); err != nil {
			return fmt.Errorf("index batch: term %q: %w", term, err)
		}
		out = append(out, TermGroup{Term: term, Messages: msgs})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*b = out
	return nil
}

func (b IndexBatch) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(g.Term)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(g.Messages)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IndexResult is the outcome of a completed Index call. EmptyTerms lists the
// terms that yielded no usable locations; an empty slice means full success.
type IndexResult struct {
	EmptyTerms []string `json:"empty_terms"`
}

// RankedParams select a window of the ranked view. Category and Alias are
// case-insensitive match patterns; empty string disables the filter. When both
// are set a location passes if it matches either one.
type RankedParams struct {
	Limit    int
	Offset   int
	Category string
	Alias    string
}

// RankedRow is one row of the ranked view: a location linked to a message,
// ranked among that message's locations by descending review count.
type RankedRow struct {
	LocationID  string  `db:"location_id" json:"location_id"`
	MessageID   int64   `db:"message_id" json:"message_id"`
	Name        string  `db:"name" json:"name"`
	ReviewCount int64   `db:"review_count" json:"review_count"`
	Rank        int64   `db:"rank" json:"rank"`
	Latitude    float64 `db:"latitude" json:"latitude"`
	Longitude   float64 `db:"longitude" json:"longitude"`
}

// Centroid is the mean coordinate over the top-ranked rows of the view.
type Centroid struct {
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
}
