package predicate

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kneutral-org/alert-repository/internal/entity"
)

// ResolvePath resolves a field path against d. Paths are either dotted
// ("service.name") or concatenated words as they appear in method names
// ("ServiceName"). At most one relation may be traversed.
func ResolvePath(d *entity.Descriptor, path string) (Path, error) {
	if path == "" {
		return Path{}, fmt.Errorf("%w: empty path on %s", ErrUnknownField, d.Name())
	}
	if strings.Contains(path, ".") {
		return resolveDotted(d, path)
	}
	return resolveWords(d, SplitWords(path), path)
}

func resolveDotted(d *entity.Descriptor, path string) (Path, error) {
	segments := strings.Split(path, ".")
	if len(segments) > 2 {
		return Path{}, fmt.Errorf("%w: %q traverses more than one relation", ErrUnsupportedPath, path)
	}

	if len(segments) == 1 {
		f, ok := d.Field(segments[0])
		if !ok {
			return Path{}, unknownField(d, path)
		}
		return Path{Field: f}, nil
	}

	rel, ok := d.Field(segments[0])
	if !ok {
		return Path{}, unknownField(d, path)
	}
	if rel.Kind != entity.KindRelation {
		return Path{}, fmt.Errorf("%w: %q: %s is not a relation", ErrUnknownField, path, rel.Name)
	}
	f, ok := rel.Target.Field(segments[1])
	if !ok {
		return Path{}, unknownField(d, path)
	}
	if f.Kind == entity.KindRelation {
		return Path{}, fmt.Errorf("%w: %q ends on a nested relation", ErrUnsupportedPath, path)
	}
	return Path{Relation: rel, Field: f}, nil
}

func resolveWords(d *entity.Descriptor, words []string, path string) (Path, error) {
	whole := strings.Join(words, "")
	if f, ok := d.Field(whole); ok {
		return Path{Field: f}, nil
	}

	deeper := false
	for i := 1; i < len(words); i++ {
		rel, ok := d.Field(strings.Join(words[:i], ""))
		if !ok || rel.Kind != entity.KindRelation {
			continue
		}
		rest := words[i:]
		if f, ok := rel.Target.Field(strings.Join(rest, "")); ok {
			if f.Kind == entity.KindRelation {
				deeper = true
				continue
			}
			return Path{Relation: rel, Field: f}, nil
		}
		if traversesRelation(rel.Target, rest) {
			deeper = true
		}
	}

	if deeper {
		return Path{}, fmt.Errorf("%w: %q traverses more than one relation", ErrUnsupportedPath, path)
	}
	return Path{}, unknownField(d, path)
}

// traversesRelation reports whether words start with a relation of d.
func traversesRelation(d *entity.Descriptor, words []string) bool {
	for i := 1; i < len(words); i++ {
		if f, ok := d.Field(strings.Join(words[:i], "")); ok && f.Kind == entity.KindRelation {
			return true
		}
	}
	return false
}

func unknownField(d *entity.Descriptor, path string) error {
	return fmt.Errorf("%w: %q on %s", ErrUnknownField, path, d.Name())
}

// SplitWords splits a camel-case identifier into words. Runs of capitals
// stay together ("IDList" -> "ID", "List") and digits stick to the
// preceding word ("Top10" stays whole).
func SplitWords(s string) []string {
	runes := []rune(s)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case cur == '_':
			boundary = true
		case unicode.IsUpper(cur) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			boundary = true
		case unicode.IsUpper(cur) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		}
		if boundary {
			if w := strings.Trim(string(runes[start:i]), "_"); w != "" {
				words = append(words, w)
			}
			start = i
		}
	}
	if w := strings.Trim(string(runes[start:]), "_"); w != "" {
		words = append(words, w)
	}
	return words
}
