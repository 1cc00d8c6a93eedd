package discord

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	rowIDRe        = regexp.MustCompile(`chat-messages-.*?(\d+)-(\d+)`)
	avatarIDRe     = regexp.MustCompile(`avatars/(\d+)/`)
	copyIDMarkerRe = regexp.MustCompile(`copy-id-(\d{17,20})`)
)

const replyContextPrefix = "message-reply-context-"

// ParseMessages extracts every parsable message from a message list snapshot,
// in DOM order. Rows without a recognizable id, header author or content node
// are skipped; one malformed row never fails the batch.
func ParseMessages(html string) ([]Message, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse message list: %w", err)
	}

	var messages []Message
	doc.Find(MessageRowSelector).Each(func(_ int, row *goquery.Selection) {
		if msg, ok := parseRow(row); ok {
			messages = append(messages, msg)
		}
	})
	return messages, nil
}

func parseRow(row *goquery.Selection) (Message, bool) {
	rowID, _ := row.Attr("id")
	m := rowIDRe.FindStringSubmatch(rowID)
	if m == nil {
		return Message{}, false
	}

	authorEl := outsideReply(row.Find(HeaderAuthorSelector))
	if authorEl.Length() == 0 {
		authorEl = outsideReply(row.Find(AnyAuthorSelector))
	}
	if authorEl.Length() == 0 {
		return Message{}, false
	}
	author := strings.TrimSpace(authorEl.First().Text())
	if author == "" || strings.HasPrefix(author, "@") {
		return Message{}, false
	}

	contentEl := outsideReply(row.Find(ContentSelector))
	if contentEl.Length() == 0 {
		return Message{}, false
	}

	msg := Message{
		ChannelID: m[1],
		MessageID: m[2],
		Author:    author,
		Content:   strings.TrimSpace(contentEl.First().Text()),
	}

	if datetime, ok := outsideReply(row.Find("time")).First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, datetime); err == nil {
			msg.Timestamp = &ts
		}
	}

	if reply := parseReply(row); reply != nil {
		msg.IsReply = true
		msg.ReplyTo = reply
	}
	return msg, true
}

// outsideReply drops elements that live inside a quoted reply preview, so a
// quoted user is never mistaken for the poster.
func outsideReply(sel *goquery.Selection) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Closest(RepliedMessageSelector).Length() == 0
	})
}

func parseReply(row *goquery.Selection) *ReplyRef {
	block := row.Find(RepliedMessageSelector).First()
	if block.Length() == 0 {
		return nil
	}

	ref := &ReplyRef{}
	if name := block.Find(`span[class*="username"]`).First(); name.Length() > 0 {
		ref.AuthorName = strings.TrimPrefix(strings.TrimSpace(name.Text()), "@")
	}
	if id, ok := block.Attr("id"); ok && strings.HasPrefix(id, replyContextPrefix) {
		ref.MessageID = strings.TrimPrefix(id, replyContextPrefix)
	}
	if preview := block.Find(ReplyPreviewSelector).First(); preview.Length() > 0 {
		ref.ContentPreview = strings.TrimSpace(preview.Text())
	}

	if ref.AuthorName == "" && ref.MessageID == "" {
		return nil
	}
	return ref
}

// ProfileDetails is what can be read from the profile panel markup alone.
type ProfileDetails struct {
	Handle string
	UserID string
}

// ParseProfile reads the username handle and, when present, an identifier
// from the avatar CDN URL or a copy-id marker inside the profile panel HTML.
func ParseProfile(html string) (ProfileDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ProfileDetails{}, fmt.Errorf("parse profile panel: %w", err)
	}

	var details ProfileDetails
	if handle := doc.Find(`[class*="userTagUsername"]`).First(); handle.Length() > 0 {
		details.Handle = strings.TrimSpace(handle.Text())
	}

	doc.Find(`img[class*="avatar"]`).EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if m := avatarIDRe.FindStringSubmatch(src); m != nil && IsSnowflake(m[1]) {
			details.UserID = m[1]
			return false
		}
		return true
	})
	if details.UserID == "" {
		if m := copyIDMarkerRe.FindStringSubmatch(html); m != nil {
			details.UserID = m[1]
		}
	}
	return details, nil
}

// ParseCopyIDElement extracts the identifier Discord embeds in the id of the
// copy action menu item, e.g. "user-profile-actions-copy-id-123…".
func ParseCopyIDElement(elementID string) (string, bool) {
	m := copyIDMarkerRe.FindStringSubmatch(elementID)
	if m == nil {
		return "", false
	}
	return m[1], true
}
