// Package domain holds the vocabulary entry types shared by the extraction
// engine, the rule store and the storage layer.
package domain

import "fmt"

// FieldID names a target output field of a vocabulary entry.
type FieldID string

const (
	FieldText                         FieldID = "text"
	FieldTranslation                  FieldID = "translation"
	FieldPhoneticUS                   FieldID = "phoneticUs"
	FieldPhoneticUK                   FieldID = "phoneticUk"
	FieldPartOfSpeech                 FieldID = "partOfSpeech"
	FieldEnglishDefinition            FieldID = "englishDefinition"
	FieldInflections                  FieldID = "inflections"
	FieldDictionaryExample            FieldID = "dictionaryExample"
	FieldDictionaryExampleTranslation FieldID = "dictionaryExampleTranslation"
	FieldContextSentence              FieldID = "contextSentence"
	FieldContextSentenceTranslation   FieldID = "contextSentenceTranslation"
	FieldMixedSentence                FieldID = "mixedSentence"
	FieldPhrases                      FieldID = "phrases"
	FieldRoots                        FieldID = "roots"
	FieldSynonyms                     FieldID = "synonyms"
	FieldTags                         FieldID = "tags"
	FieldImportance                   FieldID = "importance"
	FieldCocaRank                     FieldID = "cocaRank"
	FieldImage                        FieldID = "image"
	FieldSourceURL                    FieldID = "sourceUrl"
	FieldVideoURL                     FieldID = "videoUrl"
	FieldVideoTitle                   FieldID = "videoTitle"
	FieldVideoCover                   FieldID = "videoCover"
)

// FieldKind is the implicit output type of a field.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindList
	KindNumber
	KindVideoPart
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindNumber:
		return "number"
	case KindVideoPart:
		return "video_part"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// catalog lists every known field in display order.
var catalog = []FieldID{
	FieldText,
	FieldTranslation,
	FieldPhoneticUS,
	FieldPhoneticUK,
	FieldPartOfSpeech,
	FieldEnglishDefinition,
	FieldInflections,
	FieldDictionaryExample,
	FieldDictionaryExampleTranslation,
	FieldContextSentence,
	FieldContextSentenceTranslation,
	FieldMixedSentence,
	FieldPhrases,
	FieldRoots,
	FieldSynonyms,
	FieldTags,
	FieldImportance,
	FieldCocaRank,
	FieldImage,
	FieldSourceURL,
	FieldVideoURL,
	FieldVideoTitle,
	FieldVideoCover,
}

var known = func() map[FieldID]struct{} {
	m := make(map[FieldID]struct{}, len(catalog))
	for _, f := range catalog {
		m[f] = struct{}{}
	}
	return m
}()

// Fields returns the field catalog in display order. The slice is a copy.
func Fields() []FieldID {
	return append([]FieldID(nil), catalog...)
}

// Valid reports whether f is part of the catalog.
func (f FieldID) Valid() bool {
	_, ok := known[f]
	return ok
}

// Kind returns the implicit output type of f. Unknown fields are scalar.
func (f FieldID) Kind() FieldKind {
	switch f {
	case FieldInflections, FieldTags, FieldPhrases, FieldRoots, FieldSynonyms:
		return KindList
	case FieldImportance, FieldCocaRank:
		return KindNumber
	case FieldVideoURL, FieldVideoTitle, FieldVideoCover:
		return KindVideoPart
	default:
		return KindScalar
	}
}

// ParseFieldID validates s against the catalog.
func ParseFieldID(s string) (FieldID, error) {
	f := FieldID(s)
	if !f.Valid() {
		return "", NewValidationError("field", fmt.Sprintf("unknown field %q", s))
	}
	return f, nil
}
