package browser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"rowbot/internal/bot"
	"rowbot/internal/locator"
	"rowbot/internal/retry"
)

// Site selectors. The markup is not ours, so alternatives accumulate as the
// site evolves; rod resolves comma-separated CSS groups natively.
const (
	selCommentForm     = `form[action*='direct-response/send']`
	selCommentTextarea = `textarea[name='direct_response']`
	selSubmitButton    = `button[type='submit']`
	selProfileHeading  = `h1.cxl, h1`
	selPostCounter     = `a[href*='/profile/public/'] button div:first-child`
	selFollowerCounter = `span.cl.sp.clb`
	selListingLinks    = `a[href*='/comments/text/'], a[href*='/comments/image/']`
	selNextPage        = `a[rel='next']`
	selPostTitle       = `input[name='title'], #id_title, input[name='heading']`
	selPostBody        = `textarea[name='text'], #id_text, textarea[name='content'], #id_content`
	selPostTags        = `input[name='tags'], #id_tags`
	selFileInput       = `input[type='file'], input[name='file'], input[name='image']`
	selInboxItem       = `article, .conversation-item, li`
	selReplyTextarea   = `textarea[name='message'], textarea`
)

// maxMessageLen is the site's hard cap on comment length, in characters.
// Messages are largely Urdu, so the cut must count runes, not bytes.
const maxMessageLen = 350

// truncateMessage caps body at maxMessageLen characters without splitting
// a multibyte rune.
func truncateMessage(body string) string {
	runes := []rune(body)
	if len(runes) <= maxMessageLen {
		return body
	}
	return string(runes[:maxMessageLen])
}

var digitsRe = regexp.MustCompile(`\d+`)

var _ bot.Driver = (*Session)(nil)

// elementTimeout bounds lookups of elements that are allowed to be absent.
const elementTimeout = 3 * time.Second

// Navigate loads destination and waits for the page to settle. A timeout
// here is transient: the next attempt may land on a healthier connection.
func (s *Session) Navigate(ctx context.Context, destination string) error {
	p := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout())
	if err := p.Navigate(destination); err != nil {
		return fmt.Errorf("navigate %s: %w", destination, err)
	}
	if err := p.WaitLoad(); err != nil {
		return retry.Transient(fmt.Errorf("wait load %s: %w", destination, err))
	}
	return nil
}

// WaitFor blocks until selector appears or timeout elapses. A timeout is
// classified transient and consumes one retry attempt at the caller.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.NavigationTimeout()
	}
	if _, err := s.page.Context(ctx).Timeout(timeout).Element(selector); err != nil {
		return retry.Transient(fmt.Errorf("wait for %q: %w", selector, err))
	}
	return nil
}

// PageContains reports whether the current page source contains needle.
func (s *Session) PageContains(ctx context.Context, needle string) (bool, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return false, fmt.Errorf("read page: %w", err)
	}
	return strings.Contains(html, needle), nil
}

// ExtractResultReference returns the canonical reference of the current
// page, e.g. the post URL after a submit landed.
func (s *Session) ExtractResultReference(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("read page info: %w", err)
	}
	return CleanURL(s.cfg.BaseURL, info.URL), nil
}

// ListingURL returns the first public-listing page for identity.
func (s *Session) ListingURL(identity string) string {
	return listingURL(s.cfg.BaseURL, identity)
}

// ConversationURL returns the inbox thread page for identity.
func (s *Session) ConversationURL(identity string) string {
	return conversationURL(s.cfg.BaseURL, identity)
}

// ComposeURL returns the form page for a create intent.
func (s *Session) ComposeURL(intent bot.Intent) string {
	switch intent {
	case bot.IntentMediaPost:
		return s.cfg.BaseURL + "/share/photo/upload/"
	default:
		return s.cfg.BaseURL + "/share/text/"
	}
}

// CanonicalURL normalizes a raw post reference against the site base.
func (s *Session) CanonicalURL(raw string) string {
	return CleanURL(s.cfg.BaseURL, raw)
}

// IsPostURL reports whether raw names an actionable post on the site.
func (s *Session) IsPostURL(raw string) bool {
	return IsPostURL(s.cfg.BaseURL, raw)
}

// FillAndSubmit performs the intent's form action on the current page.
func (s *Session) FillAndSubmit(ctx context.Context, intent bot.Intent, content bot.Content) error {
	switch intent {
	case bot.IntentComment:
		return s.submitComment(ctx, content.Body)
	case bot.IntentReply:
		return s.submitReply(ctx, content.Body)
	case bot.IntentTextPost:
		return s.submitTextPost(ctx, content)
	case bot.IntentMediaPost:
		return s.submitMediaPost(ctx, content)
	default:
		return retry.Validation(fmt.Errorf("unknown intent %q", intent))
	}
}

// submitComment fills the direct-response form on an open post.
func (s *Session) submitComment(ctx context.Context, body string) error {
	if err := s.commentBlocked(ctx); err != nil {
		return err
	}

	p := s.page.Context(ctx)
	form, err := s.findCommentForm(p)
	if err != nil {
		return err
	}
	textarea, err := form.Timeout(elementTimeout).Element(selCommentTextarea)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: comment textarea", bot.ErrFormMissing))
	}
	button, err := form.Timeout(elementTimeout).Element(selSubmitButton)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: comment submit button", bot.ErrFormMissing))
	}

	if truncated := truncateMessage(body); truncated != body {
		body = truncated
		s.log.Debug("message truncated", zap.Int("limit", maxMessageLen))
	}
	if err := textarea.Input(body); err != nil {
		return fmt.Errorf("fill comment: %w", err)
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit comment: %w", err)
	}
	if err := s.page.WaitLoad(); err != nil {
		return retry.Transient(fmt.Errorf("wait after submit: %w", err))
	}
	return nil
}

// commentBlocked checks the business-rule banners before touching the
// form. The returned business errors are terminal for the task.
func (s *Session) commentBlocked(ctx context.Context) error {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	if strings.Contains(strings.ToUpper(html), "FOLLOW TO REPLY") {
		return retry.Business(bot.ErrNotFollowing)
	}
	lower := strings.ToLower(html)
	if strings.Contains(lower, "comments are closed") || strings.Contains(lower, "comments closed") {
		return retry.Business(bot.ErrCommentsClosed)
	}
	return nil
}

// findCommentForm returns the first direct-response form carrying a
// textarea. Multiple forms appear on threaded pages; only one is live.
func (s *Session) findCommentForm(p *rod.Page) (*rod.Element, error) {
	forms, err := p.Timeout(elementTimeout).Elements(selCommentForm)
	if err != nil || len(forms) == 0 {
		return nil, retry.Structural(fmt.Errorf("%w: comment form", bot.ErrFormMissing))
	}
	for _, form := range forms {
		if has, _, err := form.Has(selCommentTextarea); err == nil && has {
			return form, nil
		}
	}
	return nil, retry.Structural(fmt.Errorf("%w: comment form without textarea", bot.ErrFormMissing))
}

// submitReply fills the conversation reply form on the current thread page.
func (s *Session) submitReply(ctx context.Context, body string) error {
	p := s.page.Context(ctx)
	textarea, err := p.Timeout(elementTimeout).Element(selReplyTextarea)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: reply textarea", bot.ErrFormMissing))
	}
	button, err := p.Timeout(elementTimeout).Element(selSubmitButton)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: reply submit button", bot.ErrFormMissing))
	}
	body = truncateMessage(body)
	if err := textarea.Input(body); err != nil {
		return fmt.Errorf("fill reply: %w", err)
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("submit reply: %w", err)
	}
	if err := s.page.WaitLoad(); err != nil {
		return retry.Transient(fmt.Errorf("wait after reply: %w", err))
	}
	return nil
}

// submitTextPost fills the share-text form. The caller has already
// navigated to the share page.
func (s *Session) submitTextPost(ctx context.Context, content bot.Content) error {
	p := s.page.Context(ctx)
	title, err := p.Timeout(elementTimeout).Element(selPostTitle)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: post title input", bot.ErrFormMissing))
	}
	body, err := p.Timeout(elementTimeout).Element(selPostBody)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: post body input", bot.ErrFormMissing))
	}
	if err := title.Input(content.Title); err != nil {
		return fmt.Errorf("fill title: %w", err)
	}
	if err := body.Input(content.Body); err != nil {
		return fmt.Errorf("fill body: %w", err)
	}
	s.fillOptionalTags(p, content.Tags)
	return s.clickSubmit(p)
}

// submitMediaPost uploads the media file on the share-photo form.
func (s *Session) submitMediaPost(ctx context.Context, content bot.Content) error {
	p := s.page.Context(ctx)
	input, err := p.Timeout(elementTimeout).Element(selFileInput)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: file input", bot.ErrFormMissing))
	}
	if err := input.SetFiles([]string{content.MediaPath}); err != nil {
		return fmt.Errorf("attach file: %w", err)
	}
	if content.Title != "" {
		if title, err := p.Timeout(elementTimeout).Element(selPostTitle); err == nil {
			if err := title.Input(content.Title); err != nil {
				s.log.Debug("title fill failed", zap.Error(err))
			}
		}
	}
	s.fillOptionalTags(p, content.Tags)
	return s.clickSubmit(p)
}

// fillOptionalTags fills the tags field when both the value and the field
// exist. Absence of the field is not an error.
func (s *Session) fillOptionalTags(p *rod.Page, tags string) {
	if tags == "" {
		return
	}
	field, err := p.Timeout(elementTimeout).Element(selPostTags)
	if err != nil {
		s.log.Debug("tags field not found")
		return
	}
	if err := field.Input(tags); err != nil {
		s.log.Debug("tags fill failed", zap.Error(err))
	}
}

func (s *Session) clickSubmit(p *rod.Page) error {
	button, err := p.Timeout(elementTimeout).Element(selSubmitButton)
	if err != nil {
		return retry.Structural(fmt.Errorf("%w: submit button", bot.ErrFormMissing))
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	if err := s.page.WaitLoad(); err != nil {
		return retry.Transient(fmt.Errorf("wait after submit: %w", err))
	}
	return nil
}

// ReadIdentityAttributes scrapes the profile page of identity.
func (s *Session) ReadIdentityAttributes(ctx context.Context, identity string) (bot.Profile, error) {
	profile := bot.Profile{Nick: identity, Name: identity}

	if err := s.Navigate(ctx, profileURL(s.cfg.BaseURL, identity)); err != nil {
		return profile, err
	}
	if err := s.WaitFor(ctx, selProfileHeading, 10*time.Second); err != nil {
		return profile, err
	}

	p := s.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return profile, fmt.Errorf("read profile page: %w", err)
	}
	if strings.Contains(strings.ToLower(html), "account suspended") {
		profile.Suspended = true
		return profile, nil
	}

	profile.City = s.profileField(p, "City:")
	profile.Gender = s.profileField(p, "Gender:")

	if el, err := p.Timeout(elementTimeout).Element(selPostCounter); err == nil {
		if text, err := el.Text(); err == nil {
			profile.Posts = firstInt(text)
		}
	}
	if el, err := p.Timeout(elementTimeout).Element(selFollowerCounter); err == nil {
		if text, err := el.Text(); err == nil {
			profile.Followers = firstInt(text)
		}
	}

	s.log.Debug("profile read",
		zap.String("nick", identity),
		zap.String("city", profile.City),
		zap.Int("posts", profile.Posts),
		zap.Int("followers", profile.Followers))
	return profile, nil
}

// profileField reads the span following a bold label like "City:".
func (s *Session) profileField(p *rod.Page, label string) string {
	el, err := p.Timeout(elementTimeout).ElementX(
		fmt.Sprintf(`//b[contains(text(), '%s')]/following-sibling::span[1]`, label))
	if err != nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func firstInt(text string) int {
	m := digitsRe.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// FetchListing loads one listing page and collects candidate post
// references plus the next-page URL.
func (s *Session) FetchListing(ctx context.Context, url string) (locator.Listing, error) {
	var listing locator.Listing
	if err := s.Navigate(ctx, url); err != nil {
		return listing, err
	}

	p := s.page.Context(ctx)
	links, err := p.Elements(selListingLinks)
	if err != nil {
		return listing, fmt.Errorf("collect listing links: %w", err)
	}
	seen := make(map[string]bool)
	for _, link := range links {
		href, err := link.Attribute("href")
		if err != nil || href == nil || *href == "" {
			continue
		}
		clean := CleanURL(s.cfg.BaseURL, *href)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		listing.Candidates = append(listing.Candidates, clean)
	}

	if has, next, err := p.Has(selNextPage); err == nil && has {
		if href, err := next.Attribute("href"); err == nil && href != nil {
			listing.Next = *href
		}
	}
	return listing, nil
}

// IsActionable reports whether candidate carries an open comment form.
func (s *Session) IsActionable(ctx context.Context, candidate string) (bool, error) {
	if err := s.Navigate(ctx, candidate); err != nil {
		return false, err
	}
	if err := s.commentBlocked(ctx); err != nil {
		if retry.Classify(err) == retry.ClassBusiness {
			return false, nil
		}
		return false, err
	}
	has, _, err := s.page.Context(ctx).Has(selCommentTextarea)
	if err != nil {
		return false, fmt.Errorf("probe comment form: %w", err)
	}
	return has, nil
}

// FetchConversations reads the remote inbox threads.
func (s *Session) FetchConversations(ctx context.Context) ([]bot.Conversation, error) {
	if err := s.Navigate(ctx, s.cfg.BaseURL+"/inbox/"); err != nil {
		return nil, err
	}

	p := s.page.Context(ctx)
	items, err := p.Elements(selInboxItem)
	if err != nil {
		return nil, fmt.Errorf("collect inbox items: %w", err)
	}

	var conversations []bot.Conversation
	seen := make(map[string]bool)
	for _, item := range items {
		conv, ok := s.parseInboxItem(item)
		if !ok {
			continue
		}
		key := strings.ToLower(conv.Nick)
		if seen[key] {
			continue
		}
		seen[key] = true
		conversations = append(conversations, conv)
	}
	s.log.Debug("inbox fetched", zap.Int("conversations", len(conversations)))
	return conversations, nil
}

// parseInboxItem extracts one conversation from a listing element. The
// inbox markup is loose; items missing a nickname are skipped, not errors.
func (s *Session) parseInboxItem(item *rod.Element) (bot.Conversation, bool) {
	var conv bot.Conversation

	has, nickEl, err := item.Has(`a[href*='/users/'], b, strong`)
	if err != nil || !has {
		return conv, false
	}
	nick, err := nickEl.Text()
	if err != nil {
		return conv, false
	}
	conv.Nick = strings.TrimSpace(nick)
	if conv.Nick == "" {
		return conv, false
	}
	conv.URL = conversationURL(s.cfg.BaseURL, conv.Nick)

	if has, msgEl, err := item.Has(`p, .last-message, span.msg`); err == nil && has {
		if text, err := msgEl.Text(); err == nil {
			conv.LastMessage = strings.TrimSpace(text)
		}
	}
	if has, timeEl, err := item.Has(`time, .timestamp, span.time`); err == nil && has {
		if text, err := timeEl.Text(); err == nil {
			conv.Timestamp = strings.TrimSpace(text)
		}
	}
	return conv, true
}

// ConversationLog returns the visible text of a conversation thread,
// trimmed for write-back into a log cell.
func (s *Session) ConversationLog(ctx context.Context, url string) (string, error) {
	if err := s.Navigate(ctx, url); err != nil {
		return "", err
	}
	p := s.page.Context(ctx)
	body, err := p.Timeout(elementTimeout).Element("body")
	if err != nil {
		return "", fmt.Errorf("read conversation: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("read conversation text: %w", err)
	}
	text = strings.TrimSpace(text)
	const logLimit = 2000
	if len(text) > logLimit {
		text = text[len(text)-logLimit:]
	}
	return text, nil
}
