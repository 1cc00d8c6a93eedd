// Package discord holds the records dcwatch reads out of the Discord web
// client and the parsers that turn DOM snapshots into them.
//
// Selectors and markup names are volatile: Discord ships class name hashes
// that change between deploys, so every selector matches on substrings and
// stable attributes (id prefixes, roles, aria labels) where possible.
package discord

import (
	"regexp"
	"time"
)

// Message is one rendered chat message. Identity is MessageID.
type Message struct {
	ChannelID string     `json:"channelId"`
	MessageID string     `json:"messageId"`
	Author    string     `json:"author"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp"`
	IsReply   bool       `json:"isReply"`
	ReplyTo   *ReplyRef  `json:"replyTo"`
}

// ReplyRef describes the quoted message shown above a reply.
type ReplyRef struct {
	AuthorName     string `json:"authorName,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	ContentPreview string `json:"contentPreview,omitempty"`
}

// Profile is the outcome of one successful extraction. A nil UserID means the
// profile panel was reached but no identifier could be read.
type Profile struct {
	DisplayName string    `json:"displayName"`
	Username    string    `json:"username"`
	UserID      *string   `json:"userId"`
	ChannelID   string    `json:"channelId"`
	MessageID   string    `json:"messageId"`
	ServerID    string    `json:"serverId"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// HasUserID reports whether the identifier was resolved.
func (p Profile) HasUserID() bool {
	return p.UserID != nil && *p.UserID != ""
}

// UserIDOr returns the identifier or fallback when unresolved.
func (p Profile) UserIDOr(fallback string) string {
	if p.HasUserID() {
		return *p.UserID
	}
	return fallback
}

var snowflakeRe = regexp.MustCompile(`^\d{17,20}$`)

// IsSnowflake reports whether s looks like a Discord numeric identifier.
func IsSnowflake(s string) bool {
	return snowflakeRe.MatchString(s)
}

// DOM selectors used by the parsers and the page drivers.
const (
	// MessageListSelector matches the scrolling message list container.
	MessageListSelector = `ol[data-list-id="chat-messages"], ul[data-list-id="chat-messages"], [role="log"]`

	// MessageRowSelector matches one rendered message row.
	MessageRowSelector = `li[id^="chat-messages-"]`

	// HeaderAuthorSelector is the clickable author name in a message header.
	HeaderAuthorSelector = `h3 span[class*="username"][role="button"]`

	// AnyAuthorSelector is the broad fallback when the header markup changes.
	AnyAuthorSelector = `span[class*="username"][role="button"]`

	// RepliedMessageSelector matches the quoted preview block of a reply.
	RepliedMessageSelector = `.repliedMessage, [class*="repliedMessage"]`

	// ReplyPreviewSelector matches the preview text inside a reply block.
	ReplyPreviewSelector = `[class*="repliedTextPreview"], [class*="repliedTextContent"]`

	// ContentSelector matches the message body.
	ContentSelector = `[class*="messageContent"], [id^="message-content-"]`

	// ProfilePanelSelector matches the profile popout opened by clicking an author.
	ProfilePanelSelector = `.user-profile-popout, [class*="userPopoutOuter"], div[role="dialog"][aria-modal="true"]`

	// ProfileMoreSelector is the "more actions" button on the profile panel.
	ProfileMoreSelector = `[aria-label="More"][role="button"]`

	// ProfileMenuSelector is the overflow menu opened by ProfileMoreSelector.
	ProfileMenuSelector = `div[role="menu"]`

	// CopyIDLabel is the menu item text of the copy identifier action.
	CopyIDLabel = "Copy User ID"
)
