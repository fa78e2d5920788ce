package usecases

import (
	"strconv"
	"strings"

	"project_wainbox/internal/entities"
)

// Classification is the outcome of inspecting one raw message envelope.
// When Ignore is set the remaining fields are empty and Reason says why.
type Classification struct {
	Ignore       bool
	Reason       string
	Type         entities.MessageType
	Content      string
	MediaURLHint string
	MimetypeHint string
	QuotedID     string
}

func ignored(reason string) Classification {
	return Classification{Ignore: true, Reason: reason}
}

// Containers whose inner "message" is the real payload
var wrapperKeys = []string{
	"ephemeralMessage",
	"viewOnceMessage",
	"viewOnceMessageV2",
	"viewOnceMessageV2Extension",
	"documentWithCaptionMessage",
	"editedMessage",
}

var systemKeys = []string{
	"protocolMessage",
	"pollUpdateMessage",
	"encReactionMessage",
	"keepInChatMessage",
	"pinInChatMessage",
	"encEventResponseMessage",
}

// Keys that never carry user content on their own
var metadataKeys = map[string]bool{
	"messageContextInfo":           true,
	"senderKeyDistributionMessage": true,
	"contextInfo":                  true,
	"deviceSentMessage":            true,
	"messageSecret":                true,
	"base64":                       true,
	"mediaUrl":                     true,
}

// Free-text fields some gateway versions put next to or instead of the
// structured message.
var freeTextKeys = []string{"text", "body", "caption", "content"}

// ClassifyMessage decides what a raw message item (the envelope's data
// object holding key, message, pushName and friends) represents.
func ClassifyMessage(item map[string]any) Classification {
	msg := unwrapMessage(asMap(item["message"]))
	if msg == nil {
		if text := firstString(item, freeTextKeys...); text != "" {
			return Classification{Type: entities.MessageText, Content: text}
		}
		return ignored("no message payload")
	}

	if _, ok := msg["reactionMessage"]; ok {
		return ignored("reaction")
	}
	for _, k := range systemKeys {
		if _, ok := msg[k]; ok {
			return ignored("system payload")
		}
	}
	if onlyMetadata(msg) {
		return ignored("context only")
	}

	if c, ok := classifyContent(msg); ok {
		if c.QuotedID == "" {
			c.QuotedID = quotedID(asMap(item["contextInfo"]))
		}
		if hint := firstString(msg, "mediaUrl"); hint != "" && c.Type.HasMedia() {
			c.MediaURLHint = hint
		}
		return c
	}

	if text := firstString(msg, freeTextKeys...); text != "" {
		return Classification{Type: entities.MessageText, Content: text}
	}
	if text := firstString(item, freeTextKeys...); text != "" {
		return Classification{Type: entities.MessageText, Content: text}
	}
	return ignored("no extractable content")
}

func classifyContent(msg map[string]any) (Classification, bool) {
	if text := asString(msg["conversation"]); !blank(text) {
		return Classification{Type: entities.MessageText, Content: text}, true
	}
	if ext := asMap(msg["extendedTextMessage"]); ext != nil {
		if text := asString(ext["text"]); !blank(text) {
			return Classification{
				Type:     entities.MessageText,
				Content:  text,
				QuotedID: quotedID(asMap(ext["contextInfo"])),
			}, true
		}
	}
	if m := asMap(msg["imageMessage"]); m != nil {
		return mediaClassification(entities.MessageImage, m, asString(m["caption"])), true
	}
	if m := asMap(msg["videoMessage"]); m != nil {
		return mediaClassification(entities.MessageVideo, m, asString(m["caption"])), true
	}
	if m := asMap(msg["ptvMessage"]); m != nil {
		return mediaClassification(entities.MessageVideo, m, asString(m["caption"])), true
	}
	if m := asMap(msg["audioMessage"]); m != nil {
		return mediaClassification(entities.MessageAudio, m, ""), true
	}
	if m := asMap(msg["documentMessage"]); m != nil {
		return mediaClassification(entities.MessageDocument, m, firstString(m, "caption", "fileName", "title")), true
	}
	if m := asMap(msg["stickerMessage"]); m != nil {
		return mediaClassification(entities.MessageSticker, m, ""), true
	}
	if m := asMap(msg["contactMessage"]); m != nil {
		return Classification{Type: entities.MessageContact, Content: asString(m["displayName"]), QuotedID: quotedID(asMap(m["contextInfo"]))}, true
	}
	if m := asMap(msg["contactsArrayMessage"]); m != nil {
		name := asString(m["displayName"])
		if name == "" {
			if contacts, ok := m["contacts"].([]any); ok && len(contacts) > 0 {
				name = asString(asMap(contacts[0])["displayName"])
			}
		}
		return Classification{Type: entities.MessageContact, Content: name}, true
	}
	for _, k := range []string{"locationMessage", "liveLocationMessage"} {
		if m := asMap(msg[k]); m != nil {
			lat, latOK := asFloat(m["degreesLatitude"])
			lon, lonOK := asFloat(m["degreesLongitude"])
			if !latOK || !lonOK {
				continue
			}
			return Classification{
				Type:     entities.MessageLocation,
				Content:  strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64),
				QuotedID: quotedID(asMap(m["contextInfo"])),
			}, true
		}
	}
	return Classification{}, false
}

func mediaClassification(t entities.MessageType, m map[string]any, content string) Classification {
	return Classification{
		Type:         t,
		Content:      content,
		MediaURLHint: asString(m["url"]),
		MimetypeHint: asString(m["mimetype"]),
		QuotedID:     quotedID(asMap(m["contextInfo"])),
	}
}

func unwrapMessage(msg map[string]any) map[string]any {
	// Wrappers nest at most a few levels deep in practice
	for depth := 0; msg != nil && depth < 5; depth++ {
		unwrapped := false
		for _, k := range wrapperKeys {
			if inner := asMap(asMap(msg[k])["message"]); inner != nil {
				msg = inner
				unwrapped = true
				break
			}
		}
		if !unwrapped {
			break
		}
	}
	return msg
}

func onlyMetadata(msg map[string]any) bool {
	for k, v := range msg {
		if v == nil || metadataKeys[k] {
			continue
		}
		return false
	}
	return true
}

func quotedID(ctxInfo map[string]any) string {
	return strings.TrimSpace(asString(ctxInfo["stanzaId"]))
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); !blank(s) {
			return s
		}
	}
	return ""
}
