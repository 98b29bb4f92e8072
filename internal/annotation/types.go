// Package annotation owns the shared annotation set for one document and the
// merge rules that keep replicas convergent without a central arbiter.
//
// Annotations are independent, appendable objects: concurrent edits merge
// last-writer-wins per field (not per object), deletes are tombstoned so
// delete/edit races resolve deterministically, and replies are append-only.
package annotation

// Kind discriminates the annotation shapes a tool can commit.
type Kind string

const (
	KindHighlight   Kind = "highlight"
	KindTextComment Kind = "text-comment"
	KindDrawing     Kind = "drawing"
	KindRectangle   Kind = "rectangle"
	KindCircle      Kind = "circle"
	KindArrow       Kind = "arrow"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindHighlight, KindTextComment, KindDrawing, KindRectangle, KindCircle, KindArrow:
		return true
	}
	return false
}

// Annotation is one committed annotation object. ID and AuthorID are immutable
// after creation; the remaining content fields mutate only through Update ops
// carrying strictly newer timestamps.
type Annotation struct {
	ID          string  `json:"id"`
	Kind        Kind    `json:"kind"`
	PageNumber  int     `json:"pageNumber"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	Path        string  `json:"path,omitempty"` // vector path for drawings
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Content     string  `json:"content,omitempty"`
	AuthorID    string  `json:"authorId"`
	CreatedAt   int64   `json:"createdAt"` // unix milliseconds
	Replies     []Reply `json:"replies,omitempty"`
}

// Reply is one comment attached to an annotation. Replies are append-only and
// immutable once created.
type Reply struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// Rect is an axis-aligned bounding box in document space, exposed so the
// rendering sink can run hit tests without reaching into the store.
type Rect struct {
	X, Y, W, H float64
}

// Bounds returns the annotation's bounding box. Point-anchored kinds without
// explicit extents yield a zero-size box at the anchor.
func (a *Annotation) Bounds() Rect {
	return Rect{X: a.X, Y: a.Y, W: a.Width, H: a.Height}
}

// Contains reports whether the document-space point (x, y) falls inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}
