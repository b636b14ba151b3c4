package middleware

import (
	"embed"
	"encoding/json"
	"io/fs"
	"path"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var embeddedLocales embed.FS

// Schlüssel im gin-Kontext
const (
	LanguageKey   = "language"
	TranslatorKey = "translator"
)

// I18nConfig definiert die Konfiguration für die i18n-Middleware
type I18nConfig struct {
	DefaultLanguage string
	Locales         fs.FS // nil = eingebettete Übersetzungen
}

// Translator hält die Übersetzungsfunktionalität
type Translator struct {
	bundle      *i18n.Bundle
	localizer   map[string]*i18n.Localizer
	matcher     language.Matcher
	languages   []string
	defaultLang string
}

// NewTranslator erstellt einen neuen Übersetzer
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	locales := config.Locales
	if locales == nil {
		sub, err := fs.Sub(embeddedLocales, "locales")
		if err != nil {
			return nil, err
		}
		locales = sub
	}

	defaultTag, err := language.Parse(config.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:      bundle,
		localizer:   make(map[string]*i18n.Localizer),
		defaultLang: config.DefaultLanguage,
	}

	files, err := fs.ReadDir(locales, ".")
	if err != nil {
		return nil, err
	}
	// Standardsprache zuerst, damit der Matcher auf sie zurückfällt
	tags := []language.Tag{defaultTag}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		langCode := strings.TrimSuffix(file.Name(), path.Ext(file.Name()))
		if _, err := bundle.LoadMessageFileFS(locales, file.Name()); err != nil {
			return nil, err
		}
		t.localizer[langCode] = i18n.NewLocalizer(bundle, langCode, config.DefaultLanguage)
		t.languages = append(t.languages, langCode)
		if langCode != config.DefaultLanguage {
			tags = append(tags, language.Make(langCode))
		}
	}
	t.matcher = language.NewMatcher(tags)
	return t, nil
}

// Languages gibt die geladenen Sprachcodes zurück
func (t *Translator) Languages() []string {
	return append([]string(nil), t.languages...)
}

// Supports prüft, ob eine Sprache geladen ist
func (t *Translator) Supports(lang string) bool {
	_, ok := t.localizer[lang]
	return ok
}

// Match wählt die beste geladene Sprache für die angefragten Sprachen
// (z.B. aus Accept-Language)
func (t *Translator) Match(requested ...string) string {
	tag, _ := language.MatchStrings(t.matcher, requested...)
	base, _ := tag.Base()
	if t.Supports(base.String()) {
		return base.String()
	}
	return t.defaultLang
}

// Localize übersetzt eine Nachricht; unbekannte IDs werden unverändert zurückgegeben
func (t *Translator) Localize(lang, messageID string, data map[string]any) string {
	loc, ok := t.localizer[lang]
	if !ok {
		loc = t.localizer[t.defaultLang]
	}
	if loc == nil {
		return messageID
	}
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: messageID, TemplateData: data})
	if err != nil {
		log.Debugf("Keine Übersetzung für %s (%s): %v", messageID, lang, err)
		return messageID
	}
	return msg
}

// I18n erstellt eine Middleware für die Internationalisierung. Die Sprache kommt
// aus ?lang=, der Session oder dem Accept-Language-Header.
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Supports(lang) {
			session.Set(LanguageKey, lang)
			if err := session.Save(); err != nil {
				log.Warnf("Sprache konnte nicht in der Session gespeichert werden: %v", err)
			}
		} else if sessionLang, ok := session.Get(LanguageKey).(string); ok && translator.Supports(sessionLang) {
			lang = sessionLang
		} else {
			lang = translator.Match(c.GetHeader("Accept-Language"))
		}

		c.Set(LanguageKey, lang)
		c.Set(TranslatorKey, translator)
		c.Next()
	}
}
