package registry

import (
	"strings"
	"unicode"
)

func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	boundary := true
	for _, r := range s {
		if boundary {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
		boundary = unicode.IsSpace(r) || r == '-' || r == '\''
	}
	return b.String()
}

func builtinSpecs() []*FunctionSpec {
	return []*FunctionSpec{
		splitFullNameSpec(),
		regexExtractSpec(),
		concatenateSpec(),
		singleStringSpec("CLEAN_WHITESPACE", "Collapse runs of whitespace to single spaces", cleanWhitespace),
		singleStringSpec("TRIM", "Strip leading and trailing whitespace", strings.TrimSpace),
		singleStringSpec("UPPERCASE", "Convert to upper case", strings.ToUpper),
		singleStringSpec("LOWERCASE", "Convert to lower case", strings.ToLower),
		singleStringSpec("TITLECASE", "Capitalize the first letter of each word", titleCase),
		smartDateParseSpec(),
		formatDateSpec(),
		computeDateDiffSpec(),
		normalizeCurrencySpec(),
		addNumbersSpec(),
		normalizePhoneSpec(),
		mapValuesSpec(),
		conditionalFillSpec(),
		validateGSTINSpec(),
		validateEmailSpec(),
	}
}
