// Package render defines the data handed to a rendering surface: ordered
// draw commands per page plus remote cursors. It produces no pixels; a UI
// layer consumes frames and paints them however it likes.
package render

import (
	"github.com/inkwire/inkwire/internal/annotation"
	"github.com/inkwire/inkwire/internal/presence"
)

// Command is one annotation to paint. Commands for a page are ordered by
// creation so repeated frames paint identically on every replica.
type Command struct {
	AnnotationID string
	Kind         annotation.Kind
	Bounds       annotation.Rect
	Path         string
	Color        string
	StrokeWidth  float64
	Content      string
	AuthorID     string
	ReplyCount   int
}

// Cursor is one remote participant's pointer in document space.
type Cursor struct {
	UserID   string
	X, Y     float64
	IsTyping bool
}

// Frame is everything a surface needs to paint one page.
type Frame struct {
	PageNumber int
	Commands   []Command
	Cursors    []Cursor
}

// Sink receives frames. Implementations must not retain the slices past
// the call.
type Sink interface {
	Render(f Frame)
}

// BuildFrame assembles the draw list for a page from the live stores.
func BuildFrame(as *annotation.Store, ps *presence.Store, page int) Frame {
	anns := as.SelectByPage(page)
	f := Frame{PageNumber: page, Commands: make([]Command, 0, len(anns))}
	for _, a := range anns {
		f.Commands = append(f.Commands, Command{
			AnnotationID: a.ID,
			Kind:         a.Kind,
			Bounds:       a.Bounds(),
			Path:         a.Path,
			Color:        a.Color,
			StrokeWidth:  a.StrokeWidth,
			Content:      a.Content,
			AuthorID:     a.AuthorID,
			ReplyCount:   len(a.Replies),
		})
	}
	for _, e := range ps.Snapshot() {
		if e.PageNumber != page {
			continue
		}
		f.Cursors = append(f.Cursors, Cursor{UserID: e.UserID, X: e.X, Y: e.Y, IsTyping: e.IsTyping})
	}
	return f
}
