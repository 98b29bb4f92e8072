package annotation

import (
	"sort"
	"sync"
	"time"

	"github.com/inkwire/inkwire/internal/util"
)

// Field clock keys. Every mutable field carries its own last-applied
// timestamp so one stale edit cannot clobber an unrelated field.
const (
	fieldPage        = "pageNumber"
	fieldX           = "x"
	fieldY           = "y"
	fieldWidth       = "width"
	fieldHeight      = "height"
	fieldPath        = "path"
	fieldColor       = "color"
	fieldStrokeWidth = "strokeWidth"
	fieldContent     = "content"
)

// record is the store's internal view of one annotation id: the merged object,
// the per-field clocks, and the tombstone clock. A record can exist before its
// Create op arrives (updates from other peers are only ordered per sender), in
// which case created is false and the record stays invisible.
type record struct {
	created  bool
	ann      Annotation
	fieldTS  map[string]int64
	deleteTS int64
	replies  map[string]Reply
}

// maxChangeTS is the newest constructive timestamp seen for the record:
// creation plus every per-field edit. An annotation is visible only while
// this beats the tombstone clock.
func (r *record) maxChangeTS() int64 {
	ts := int64(0)
	if r.created {
		ts = r.ann.CreatedAt
	}
	for _, ft := range r.fieldTS {
		if ft > ts {
			ts = ft
		}
	}
	return ts
}

func (r *record) alive() bool {
	return r.created && r.maxChangeTS() > r.deleteTS
}

// Store owns the annotation set for one document. All mutations go through
// Apply; the merge rules make Apply commutative over any arrival order of the
// same op set, so two replicas feeding each other their local ops converge.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewStore creates an empty annotation store.
func NewStore() *Store {
	return &Store{records: make(map[string]*record)}
}

// Apply merges one op into the store. It reports whether the op changed
// state; stale and duplicate ops are discarded silently — they are expected
// under concurrency, never an error.
func (s *Store) Apply(op *Op) bool {
	if err := op.validate(); err != nil {
		util.Debugf("dropping invalid annotation op: %v", err)
		util.Stats.AddOpDiscarded()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var applied bool
	switch op.Kind {
	case OpCreate:
		applied = s.applyCreate(op.Annotation)
	case OpUpdate:
		applied = s.applyUpdate(op.ID, op.Patch, op.TS)
	case OpDelete:
		applied = s.applyDelete(op.ID, op.TS)
	case OpReply:
		applied = s.applyReply(op.ID, op.Reply)
	}

	if applied {
		util.Stats.AddOpApplied()
	} else {
		util.Stats.AddOpDiscarded()
	}
	return applied
}

func (s *Store) getOrInit(id string) *record {
	rec, ok := s.records[id]
	if !ok {
		rec = &record{
			fieldTS: make(map[string]int64),
			replies: make(map[string]Reply),
		}
		s.records[id] = rec
	}
	return rec
}

// applyCreate installs the full object. Duplicate creates for the same id are
// no-ops. If updates arrived ahead of the create, the create only fills fields
// whose clocks it beats — id and authorId are taken verbatim, they never merge.
func (s *Store) applyCreate(a *Annotation) bool {
	rec := s.getOrInit(a.ID)
	if rec.created {
		return false
	}
	rec.created = true

	base := *a
	base.Replies = nil
	for _, reply := range a.Replies {
		if reply.ID != "" {
			rec.replies[reply.ID] = reply
		}
	}

	// The create carries every field at the creation timestamp. A field a
	// newer update already touched keeps the update's value.
	had := rec.ann
	rec.ann = base
	for field, ts := range rec.fieldTS {
		if ts > a.CreatedAt {
			restoreField(&rec.ann, &had, field)
		}
	}
	return true
}

func (s *Store) applyUpdate(id string, patch *FieldPatch, ts int64) bool {
	rec := s.getOrInit(id)

	applied := false
	merge := func(field string, createTS int64, set func()) {
		last := rec.fieldTS[field]
		if rec.created && createTS > last {
			last = createTS
		}
		if ts > last {
			set()
			rec.fieldTS[field] = ts
			applied = true
		}
	}

	createTS := int64(0)
	if rec.created {
		createTS = rec.ann.CreatedAt
	}

	if patch.PageNumber != nil {
		merge(fieldPage, createTS, func() { rec.ann.PageNumber = *patch.PageNumber })
	}
	if patch.X != nil {
		merge(fieldX, createTS, func() { rec.ann.X = *patch.X })
	}
	if patch.Y != nil {
		merge(fieldY, createTS, func() { rec.ann.Y = *patch.Y })
	}
	if patch.Width != nil {
		merge(fieldWidth, createTS, func() { rec.ann.Width = *patch.Width })
	}
	if patch.Height != nil {
		merge(fieldHeight, createTS, func() { rec.ann.Height = *patch.Height })
	}
	if patch.Path != nil {
		merge(fieldPath, createTS, func() { rec.ann.Path = *patch.Path })
	}
	if patch.Color != nil {
		merge(fieldColor, createTS, func() { rec.ann.Color = *patch.Color })
	}
	if patch.StrokeWidth != nil {
		merge(fieldStrokeWidth, createTS, func() { rec.ann.StrokeWidth = *patch.StrokeWidth })
	}
	if patch.Content != nil {
		merge(fieldContent, createTS, func() { rec.ann.Content = *patch.Content })
	}
	return applied
}

// applyDelete advances the tombstone clock. Whether the annotation is dead is
// derived by comparing clocks, so a delete racing an edit resolves the same
// way on every replica: the delete suppresses anything older, and only a
// strictly newer update resurrects the object.
func (s *Store) applyDelete(id string, ts int64) bool {
	rec := s.getOrInit(id)
	if ts <= rec.deleteTS {
		return false
	}
	rec.deleteTS = ts
	return true
}

// applyReply appends an immutable reply. Replies have no edit or delete
// semantics; duplicates (same reply id) and replies to tombstoned annotations
// are dropped.
func (s *Store) applyReply(id string, reply *Reply) bool {
	rec, ok := s.records[id]
	if !ok || !rec.alive() {
		return false
	}
	if _, dup := rec.replies[reply.ID]; dup {
		return false
	}
	rec.replies[reply.ID] = *reply
	return true
}

// Get returns a copy of the live annotation with the given id.
func (s *Store) Get(id string) (Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok || !rec.alive() {
		return Annotation{}, false
	}
	return rec.snapshot(), true
}

// SelectByPage returns the live annotations on page n in creation order
// (creation timestamp, id as tie-break), which is the stable render order.
func (s *Store) SelectByPage(n int) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Annotation
	for _, rec := range s.records {
		if rec.alive() && rec.ann.PageNumber == n {
			out = append(out, rec.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// HitTest returns the ids of live annotations on page n whose bounding box
// contains the document-space point (x, y), in render order. Pixel-accurate
// hit testing belongs to the rendering sink; this is the axis-aligned cut.
func (s *Store) HitTest(n int, x, y float64) []string {
	var ids []string
	for _, a := range s.SelectByPage(n) {
		if a.Bounds().Contains(x, y) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Compact physically removes tombstones older than horizon. Tombstones must
// outlive the window in which a racing edit could still arrive; after that
// they are dead weight.
func (s *Store) Compact(now time.Time, horizon time.Duration) int {
	cutoff := now.Add(-horizon).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.deleteTS > 0 && !rec.alive() && rec.deleteTS < cutoff {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// snapshot copies the merged annotation with its replies sorted by creation
// time (reply id as tie-break) so every replica renders the same thread order.
func (r *record) snapshot() Annotation {
	a := r.ann
	if len(r.replies) > 0 {
		a.Replies = make([]Reply, 0, len(r.replies))
		for _, reply := range r.replies {
			a.Replies = append(a.Replies, reply)
		}
		sort.Slice(a.Replies, func(i, j int) bool {
			if a.Replies[i].CreatedAt != a.Replies[j].CreatedAt {
				return a.Replies[i].CreatedAt < a.Replies[j].CreatedAt
			}
			return a.Replies[i].ID < a.Replies[j].ID
		})
	}
	return a
}

func restoreField(dst, src *Annotation, field string) {
	switch field {
	case fieldPage:
		dst.PageNumber = src.PageNumber
	case fieldX:
		dst.X = src.X
	case fieldY:
		dst.Y = src.Y
	case fieldWidth:
		dst.Width = src.Width
	case fieldHeight:
		dst.Height = src.Height
	case fieldPath:
		dst.Path = src.Path
	case fieldColor:
		dst.Color = src.Color
	case fieldStrokeWidth:
		dst.StrokeWidth = src.StrokeWidth
	case fieldContent:
		dst.Content = src.Content
	}
}
