package discord

import (
	"fmt"
	"net/url"
	"strings"
)

// BaseURL is the web client origin.
const BaseURL = "https://discord.com"

// AppURL is the landing page of an authenticated session.
const AppURL = BaseURL + "/app"

// DirectMessages is the server segment Discord uses for DM channels.
const DirectMessages = "@me"

// ChannelLink identifies a channel by its server and channel ids.
type ChannelLink struct {
	ServerID  string
	ChannelID string
	MessageID string
}

// ParseChannelLink parses https://discord.com/channels/<server>/<channel>[/<message>].
func ParseChannelLink(raw string) (ChannelLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ChannelLink{}, fmt.Errorf("parse channel link %q: %w", raw, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "channels" || parts[1] == "" || parts[2] == "" {
		return ChannelLink{}, fmt.Errorf("not a channel link: %q", raw)
	}
	link := ChannelLink{ServerID: parts[1], ChannelID: parts[2]}
	if len(parts) > 3 {
		link.MessageID = parts[3]
	}
	return link, nil
}

// ChannelURL builds the URL of a channel.
func ChannelURL(serverID, channelID string) string {
	if serverID == "" {
		serverID = DirectMessages
	}
	return fmt.Sprintf("%s/channels/%s/%s", BaseURL, serverID, channelID)
}

// MessageURL builds the deep link of a single message.
func MessageURL(serverID, channelID, messageID string) string {
	return ChannelURL(serverID, channelID) + "/" + messageID
}

// UserURL builds the profile link of a user id, or "" when id is not one.
func UserURL(id string) string {
	if !IsSnowflake(id) {
		return ""
	}
	return BaseURL + "/users/" + id
}
