package webhook

import "time"

// Envelope is the outer webhook payload delivered by the platform. One
// delivery may carry many entries, each with many change records.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one page.
type Entry struct {
	ID      string   `json:"id"` // external page id
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

// Change is one field-level notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the payload of a feed change. Only item == "comment"
// is of interest here.
type ChangeValue struct {
	Item        string  `json:"item"`
	CommentID   string  `json:"comment_id"`
	PostID      string  `json:"post_id"`
	Message     string  `json:"message"`
	From        *Author `json:"from"`
	CreatedTime int64   `json:"created_time"`
}

// Author identifies the commenter. The platform omits it in some cases, so
// an event may arrive without an author id.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawEvent is the strictly-typed form of one inbound comment, produced at
// the boundary so nothing loosely-typed travels further into the pipeline.
type RawEvent struct {
	PageID     string // external page (source) id
	CommentID  string // external comment (event) id
	PostID     string // external post (target) id
	AuthorID   string // may be empty
	AuthorName string
	Text       string
	ReceivedAt time.Time
}

// Events flattens the envelope into the comment events it carries; other
// change types are ignored.
func (e *Envelope) Events() []RawEvent {
	var events []RawEvent
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			if change.Field != "feed" || change.Value.Item != "comment" {
				continue
			}

			ev := RawEvent{
				PageID:     entry.ID,
				CommentID:  change.Value.CommentID,
				PostID:     change.Value.PostID,
				Text:       change.Value.Message,
				ReceivedAt: time.Now(),
			}
			if change.Value.CreatedTime > 0 {
				ev.ReceivedAt = time.Unix(change.Value.CreatedTime, 0)
			}
			if change.Value.From != nil {
				ev.AuthorID = change.Value.From.ID
				ev.AuthorName = change.Value.From.Name
			}
			events = append(events, ev)
		}
	}
	return events
}
