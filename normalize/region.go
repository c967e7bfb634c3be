package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// casers are stateful, so each call takes its own chain from the pool
var regionChains = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
			cases.Upper(language.Und),
		)
	},
}

// CanonicalRegion folds a region label into its stored code: NFKC, format
// characters removed, upper case, whitespace runs joined with '_'.
// "HHS Region 1" becomes "HHS_REGION_1".
func CanonicalRegion(s string) string {
	s = strings.ToValidUTF8(s, "")
	if strings.TrimSpace(s) == "" {
		return ""
	}

	tr := regionChains.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	regionChains.Put(tr)
	if err != nil {
		out = strings.ToUpper(s)
	}
	return strings.Join(strings.Fields(out), "_")
}
