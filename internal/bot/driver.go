// Package bot runs the per-row task state machines for the three modes:
// message-send, post-create and inbox-reply. One browser session executes
// every action of a run serially; rows are read, processed and written back
// in the same stable order.
package bot

import (
	"context"
	"errors"
	"time"

	"rowbot/internal/locator"
)

// Business-rule outcomes surfaced by the driver. They route a row to
// skipped, never to failed.
var (
	// ErrNotFollowing: the target only accepts replies from followers.
	ErrNotFollowing = errors.New("must follow target to reply")
	// ErrCommentsClosed: the target no longer accepts comments.
	ErrCommentsClosed = errors.New("comments are closed")
)

// ErrFormMissing is a structural failure: the expected form is absent from
// an otherwise loaded page. Retrying the unchanged page cannot succeed.
var ErrFormMissing = errors.New("expected form not found")

// Intent names the browser action a fill-and-submit performs.
type Intent string

const (
	IntentComment   Intent = "comment"
	IntentTextPost  Intent = "text_post"
	IntentMediaPost Intent = "media_post"
	IntentReply     Intent = "reply"
)

// Content carries the fields a fill-and-submit may need; unused fields stay
// empty.
type Content struct {
	Title     string
	Body      string
	MediaPath string
	Tags      string
}

// Profile holds the identity attributes read from a profile page.
type Profile struct {
	Nick      string
	Name      string
	City      string
	Gender    string
	Posts     int
	Followers int
	Suspended bool
}

// Conversation is one remote inbox thread as discovered on the inbox page.
type Conversation struct {
	Nick        string
	LastMessage string
	Timestamp   string
	URL         string
}

// Driver is the browser capability the orchestrators consume. The concrete
// implementation lives in internal/browser; tests use mocks.
type Driver interface {
	locator.Source

	// Navigate loads destination in the session's page.
	Navigate(ctx context.Context, destination string) error
	// FillAndSubmit performs the intent's form action on the current page.
	FillAndSubmit(ctx context.Context, intent Intent, content Content) error
	// WaitFor blocks until selector is present or timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// ReadIdentityAttributes scrapes the profile page of identity.
	ReadIdentityAttributes(ctx context.Context, identity string) (Profile, error)
	// ExtractResultReference returns the canonical reference of the page
	// resulting from the last action.
	ExtractResultReference(ctx context.Context) (string, error)
	// PageContains reports whether the current page's content contains
	// needle, used for submit verification.
	PageContains(ctx context.Context, needle string) (bool, error)
	// ListingURL returns the first listing page URL for an identity.
	ListingURL(identity string) string
	// ConversationURL returns the inbox thread URL for an identity.
	ConversationURL(identity string) string
	// ComposeURL returns the form page for a create intent.
	ComposeURL(intent Intent) string
	// CanonicalURL normalizes a raw reference into its canonical form.
	CanonicalURL(raw string) string
	// IsPostURL reports whether raw names an actionable destination on the
	// configured site.
	IsPostURL(raw string) bool
	// FetchConversations reads the remote inbox threads.
	FetchConversations(ctx context.Context) ([]Conversation, error)
	// ConversationLog returns the full transcript of one thread.
	ConversationLog(ctx context.Context, url string) (string, error)
}
