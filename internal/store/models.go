package store

import "time"

// Field is one owner-held rich-text value. Value is markup; PlainText and
// WordCount are derived from it when the value is stored.
type Field struct {
	ID        string
	Label     string
	Value     string
	PlainText string
	WordCount int
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Apply records one accepted session value.
type Apply struct {
	ID         int64
	FieldID    string
	SessionID  string
	WordCount  int
	CommitHash string
	AppliedBy  string
	AppliedAt  time.Time
}

// CommitInfo describes one stored version of a field value. Added and Removed
// count plain-text runes changed relative to the previous version.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
