package usecases

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// AddressKind classifies a remote identifier by its server suffix
type AddressKind int

const (
	AddressInvalid AddressKind = iota
	AddressIndividual
	AddressGroup
	AddressBroadcast
)

// ClassifyJID reports which kind of addressing raw uses. Bare digit strings
// are treated as individual phone numbers.
func ClassifyJID(raw string) AddressKind {
	_, kind := parseRemote(raw)
	return kind
}

// NormalizeJID canonicalizes a remote identifier. Phone-based individual
// identifiers collapse onto <digits>@s.whatsapp.net. Hidden-user (lid)
// identifiers carry no phone number and keep their own suffix, minus any
// device part. Group and broadcast identifiers are returned unchanged.
// Empty or malformed input yields "".
func NormalizeJID(raw string) string {
	jid, kind := parseRemote(raw)
	switch kind {
	case AddressGroup, AddressBroadcast:
		return strings.TrimSpace(raw)
	case AddressIndividual:
		digits := onlyDigits(jid.User)
		if digits == "" {
			return ""
		}
		if jid.Server == types.HiddenUserServer {
			return types.NewJID(digits, types.HiddenUserServer).String()
		}
		return types.NewJID(digits, types.DefaultUserServer).String()
	}
	return ""
}

// ExtractPhone returns the bare digits of a phone-based individual
// identifier, or "" for hidden users, groups, broadcasts and malformed input.
func ExtractPhone(raw string) string {
	jid, kind := parseRemote(raw)
	if kind != AddressIndividual || jid.Server == types.HiddenUserServer {
		return ""
	}
	return onlyDigits(jid.User)
}

// IsCanonicalJID reports whether jid already uses the canonical individual suffix
func IsCanonicalJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+types.DefaultUserServer)
}

func parseRemote(raw string) (types.JID, AddressKind) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, AddressInvalid
	}
	if !strings.Contains(raw, "@") {
		digits := onlyDigits(strings.TrimPrefix(raw, "+"))
		if digits == "" || len(digits) != len(strings.TrimPrefix(raw, "+")) {
			return types.EmptyJID, AddressInvalid
		}
		return types.NewJID(digits, types.DefaultUserServer), AddressIndividual
	}

	jid, err := types.ParseJID(raw)
	if err != nil || jid.User == "" {
		return types.EmptyJID, AddressInvalid
	}
	switch strings.ToLower(jid.Server) {
	case types.GroupServer:
		return jid, AddressGroup
	case types.BroadcastServer, types.NewsletterServer:
		return jid, AddressBroadcast
	case types.DefaultUserServer, types.LegacyUserServer:
		return jid, AddressIndividual
	case types.HiddenUserServer:
		jid.Server = types.HiddenUserServer
		return jid, AddressIndividual
	}
	return types.EmptyJID, AddressInvalid
}

func onlyDigits(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsHiddenUserJID reports whether raw uses the hidden-user (lid) suffix that
// carries no phone number.
func IsHiddenUserJID(raw string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(raw)), "@"+types.HiddenUserServer)
}
