package sheets

import (
	"fmt"
	"strings"
)

// Status is the shared terminal-status envelope on every queue row. Within a
// run status is monotonic: only pending rows are eligible, and each processed
// row receives exactly one terminal status.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsPending reports whether a raw status cell marks a row eligible. Older
// sheets carry suffixed variants like "pending (retry)".
func IsPending(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), string(StatusPending))
}

// TargetMode selects how a message task names its destination.
type TargetMode string

const (
	// ModeIdentity targets a nickname; the open-target locator finds a
	// destination on their public listing.
	ModeIdentity TargetMode = "identity"
	// ModeDirect targets an explicit destination URL.
	ModeDirect TargetMode = "direct"
)

// PostType selects the post-create sub-type.
type PostType string

const (
	PostText  PostType = "text"
	PostMedia PostType = "media"
)

// Message-target collection layout, 1-based columns. Older schema variants
// may carry extra columns to the right; they are tolerated and ignored.
const (
	MsgColMode      = 1
	MsgColName      = 2
	MsgColTarget    = 3
	MsgColCity      = 4
	MsgColPosts     = 5
	MsgColFollowers = 6
	MsgColTemplate  = 7
	MsgColStatus    = 8
	MsgColNotes     = 9
	MsgColResult    = 10
)

// Post-creation collection layout.
const (
	PostColType      = 1
	PostColTitle     = 2
	PostColContent   = 3
	PostColMediaPath = 4
	PostColTags      = 5
	PostColStatus    = 6
	PostColResult    = 7
	PostColTimestamp = 8
	PostColNotes     = 9
)

// Inbox collection layout.
const (
	InboxColNick      = 1
	InboxColName      = 2
	InboxColLastMsg   = 3
	InboxColReply     = 4
	InboxColStatus    = 5
	InboxColTimestamp = 6
	InboxColNotes     = 7
	InboxColLog       = 8
)

// MessageTask is one validated message-send queue entry.
type MessageTask struct {
	Row       int // 1-based sheet row
	Mode      TargetMode
	Name      string
	Target    string // nickname (identity mode) or destination URL (direct mode)
	City      string
	Posts     string
	Followers string
	Template  string
	Notes     string
}

// PostTask is one validated post-create queue entry.
type PostTask struct {
	Row       int
	Type      PostType
	Title     string
	Content   string
	MediaPath string
	Tags      string
}

// InboxRecord is one conversation row, keyed by nickname.
type InboxRecord struct {
	Row         int
	Nick        string
	Name        string
	LastInbound string
	Reply       string
	Status      string
	Timestamp   string
	Notes       string
	Log         string
}

// cell returns the 1-based column from a possibly short row, trimmed.
func cell(row []string, col int) string {
	if col-1 >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}

// parseMessageRow validates one message-target row into a typed task.
func parseMessageRow(rowNum int, row []string) (MessageTask, error) {
	task := MessageTask{
		Row:       rowNum,
		Name:      cell(row, MsgColName),
		Target:    cell(row, MsgColTarget),
		City:      cell(row, MsgColCity),
		Posts:     cell(row, MsgColPosts),
		Followers: cell(row, MsgColFollowers),
		Template:  cell(row, MsgColTemplate),
		Notes:     cell(row, MsgColNotes),
	}

	switch strings.ToLower(cell(row, MsgColMode)) {
	case "identity", "nick", "": // identity is the historical default
		task.Mode = ModeIdentity
	case "direct", "url":
		task.Mode = ModeDirect
	default:
		return task, fmt.Errorf("unknown target mode %q", cell(row, MsgColMode))
	}
	if task.Target == "" {
		return task, fmt.Errorf("missing identity/destination")
	}
	if task.Template == "" {
		return task, fmt.Errorf("missing message template")
	}
	if task.Name == "" {
		task.Name = task.Target
	}
	return task, nil
}

// parsePostRow validates one post-creation row into a typed task.
func parsePostRow(rowNum int, row []string) (PostTask, error) {
	task := PostTask{
		Row:       rowNum,
		Title:     cell(row, PostColTitle),
		Content:   cell(row, PostColContent),
		MediaPath: cell(row, PostColMediaPath),
		Tags:      cell(row, PostColTags),
	}

	switch strings.ToLower(cell(row, PostColType)) {
	case "text":
		task.Type = PostText
	case "media", "image": // older sheets say "image"
		task.Type = PostMedia
	default:
		return task, fmt.Errorf("unknown post type %q", cell(row, PostColType))
	}
	if task.Type == PostText && task.Content == "" {
		return task, fmt.Errorf("text post missing content")
	}
	if task.Type == PostMedia && task.MediaPath == "" {
		return task, fmt.Errorf("media post missing file path")
	}
	return task, nil
}

// parseInboxRow reads one conversation record. Only the nickname is
// required; everything else may be blank in steady state.
func parseInboxRow(rowNum int, row []string) (InboxRecord, error) {
	rec := InboxRecord{
		Row:         rowNum,
		Nick:        cell(row, InboxColNick),
		Name:        cell(row, InboxColName),
		LastInbound: cell(row, InboxColLastMsg),
		Reply:       cell(row, InboxColReply),
		Status:      cell(row, InboxColStatus),
		Timestamp:   cell(row, InboxColTimestamp),
		Notes:       cell(row, InboxColNotes),
		Log:         cell(row, InboxColLog),
	}
	if rec.Nick == "" {
		return rec, fmt.Errorf("missing nickname")
	}
	return rec, nil
}
