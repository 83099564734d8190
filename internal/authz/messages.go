package authz

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"rolegate/internal/domain"
)

// Message keys. The English text doubles as the key.
const (
	msgNotAuthenticated         = "Access denied. Please log in."
	msgInsufficientRole         = "You are not authorized to perform this operation. Required role(s): %s."
	msgInsufficientRoleRedacted = "You are not authorized to perform this operation."
)

var supported = []language.Tag{language.English, language.Turkish}

// Messages renders localized denial messages.
type Messages struct {
	catalog  *catalog.Builder
	matcher  language.Matcher
	fallback language.Tag
}

// NewMessages builds the English and Turkish catalog. fallback is used when a
// request carries no usable Accept-Language header.
func NewMessages(fallback language.Tag) (*Messages, error) {
	cat := catalog.NewBuilder(catalog.Fallback(language.English))
	entries := []struct {
		tag      language.Tag
		key, msg string
	}{
		{language.English, msgNotAuthenticated, msgNotAuthenticated},
		{language.English, msgInsufficientRole, msgInsufficientRole},
		{language.English, msgInsufficientRoleRedacted, msgInsufficientRoleRedacted},
		{language.Turkish, msgNotAuthenticated, "Erişim reddedildi. Lütfen giriş yapın."},
		{language.Turkish, msgInsufficientRole, "Bu işlem için yetkiniz yok. Gerekli rol(ler): %s."},
		{language.Turkish, msgInsufficientRoleRedacted, "Bu işlem için yetkiniz yok."},
	}
	for _, e := range entries {
		if err := cat.SetString(e.tag, e.key, e.msg); err != nil {
			return nil, fmt.Errorf("registering %s message: %w", e.tag, err)
		}
	}

	m := &Messages{
		catalog: cat,
		matcher: language.NewMatcher(supported),
	}
	m.fallback = m.match(fallback)
	return m, nil
}

// Negotiate picks the best supported language for an Accept-Language value.
func (m *Messages) Negotiate(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return m.fallback
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return m.fallback
	}
	return m.match(tags...)
}

func (m *Messages) match(tags ...language.Tag) language.Tag {
	_, idx, conf := m.matcher.Match(tags...)
	if conf == language.No {
		return m.fallback
	}
	return supported[idx]
}

// Render returns the user-facing text for a denied decision. When disclose
// is false the required roles are left out of insufficient-role messages.
func (m *Messages) Render(tag language.Tag, d Decision, disclose bool) string {
	if d.Allowed {
		return ""
	}
	p := message.NewPrinter(tag, message.Catalog(m.catalog))
	switch {
	case d.Reason == ReasonNotAuthenticated:
		return p.Sprintf(msgNotAuthenticated)
	case disclose:
		return p.Sprintf(msgInsufficientRole, domain.JoinRoles(d.Required))
	default:
		return p.Sprintf(msgInsufficientRoleRedacted)
	}
}
