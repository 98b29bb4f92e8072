package annotation

import (
	"encoding/json"
	"fmt"
)

// OpKind identifies a store mutation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	OpReply  OpKind = "reply"
)

// FieldPatch carries the fields an Update op touches. Nil pointers mean
// "field untouched" — each set field merges independently under its own
// last-writer-wins clock.
type FieldPatch struct {
	PageNumber  *int     `json:"pageNumber,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Path        *string  `json:"path,omitempty"`
	Color       *string  `json:"color,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Content     *string  `json:"content,omitempty"`
}

// Op is one replicated store mutation. Create carries the full object; Update
// carries a field patch plus the edit timestamp; Delete carries only the
// tombstone timestamp; Reply appends an immutable reply.
type Op struct {
	Kind       OpKind      `json:"op"`
	ID         string      `json:"id"`
	Annotation *Annotation `json:"annotation,omitempty"`
	Patch      *FieldPatch `json:"patch,omitempty"`
	Reply      *Reply      `json:"reply,omitempty"`
	TS         int64       `json:"ts,omitempty"` // unix milliseconds, update/delete only
}

// DecodeOp parses an op from an envelope payload.
func DecodeOp(data []byte) (*Op, error) {
	var op Op
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("malformed annotation op: %w", err)
	}
	if err := op.validate(); err != nil {
		return nil, err
	}
	return &op, nil
}

func (op *Op) validate() error {
	switch op.Kind {
	case OpCreate:
		if op.Annotation == nil || op.Annotation.ID == "" {
			return fmt.Errorf("create op without annotation")
		}
		if !op.Annotation.Kind.Valid() {
			return fmt.Errorf("create op with unknown kind %q", op.Annotation.Kind)
		}
	case OpUpdate:
		if op.ID == "" || op.Patch == nil {
			return fmt.Errorf("update op without id or patch")
		}
	case OpDelete:
		if op.ID == "" {
			return fmt.Errorf("delete op without id")
		}
	case OpReply:
		if op.ID == "" || op.Reply == nil || op.Reply.ID == "" {
			return fmt.Errorf("reply op without id or reply")
		}
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}
