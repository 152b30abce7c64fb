// Package i18n localizes holder-facing messages. The engine serves a
// distributed membership, so rejection messages and control-keyword replies
// follow the caller's Accept-Language header.
package i18n

import (
	"encoding/json"
	"fmt"
	"strings"

	"vigil/internal/i18n/locales"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

var bundle *i18n.Bundle

// Init initializes the message bundle.
func Init() error {
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	catalogs := map[string]map[string]string{
		"en-US": locales.EnUS,
		"es-ES": locales.EsES,
	}
	for lang, messages := range catalogs {
		tag, err := language.Parse(lang)
		if err != nil {
			return fmt.Errorf("failed to parse language %s: %w", lang, err)
		}
		for id, msg := range messages {
			if err := bundle.AddMessages(tag, &i18n.Message{ID: id, Other: msg}); err != nil {
				return fmt.Errorf("failed to add messages for %s: %w", lang, err)
			}
		}
	}

	return nil
}

// GetLocalizer gets a localizer for an Accept-Language header value.
func GetLocalizer(acceptLang string) *i18n.Localizer {
	langs := parseAcceptLanguage(acceptLang)
	if len(langs) == 0 {
		langs = []string{"en-US"}
	}
	return i18n.NewLocalizer(bundle, langs...)
}

// T resolves a message ID with optional template data. Falls back to the
// message ID when the bundle has no entry, so an unknown ID never panics.
func T(localizer *i18n.Localizer, msgID string, templateData ...map[string]any) string {
	cfg := &i18n.LocalizeConfig{MessageID: msgID}
	if len(templateData) > 0 {
		cfg.TemplateData = templateData[0]
	}
	msg, err := localizer.Localize(cfg)
	if err != nil {
		return msgID
	}
	return msg
}

// parseAcceptLanguage parses the Accept-Language header, taking the first entry.
func parseAcceptLanguage(acceptLang string) []string {
	if acceptLang == "" {
		return nil
	}

	parts := strings.Split(acceptLang, ",")
	lang := strings.TrimSpace(parts[0])
	if idx := strings.Index(lang, ";"); idx > 0 {
		lang = lang[:idx]
	}
	if lang == "" {
		return nil
	}
	return []string{normalizeLanguageCode(lang)}
}

// normalizeLanguageCode maps loose language codes onto supported catalogs.
func normalizeLanguageCode(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "es", "es-es", "es-419", "es-mx":
		return "es-ES"
	case "en", "en-us", "en-gb":
		return "en-US"
	default:
		return lang
	}
}
