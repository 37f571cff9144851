package delegate

import (
	"strings"

	language "github.com/hanpama/stitchgraph/internal/language"
)

// ReservedNameRule names the validation rule reported by CheckReserved.
const ReservedNameRule = "ReservedNames"

// CheckReserved reports the response keys and variables of doc that start
// with the prefix used for values injected into sub-queries. Such names
// would collide with the injected ones in the source response.
func CheckReserved(doc *language.QueryDocument) language.ErrorList {
	var errs language.ErrorList
	var walk func(language.SelectionSet)
	walk = func(set language.SelectionSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *language.Field:
				if strings.HasPrefix(sel.Alias, reservedPrefix) {
					errs = append(errs, language.ErrorAt(sel.Position, ReservedNameRule,
						`Response key "%s" uses the reserved prefix "%s".`, sel.Alias, reservedPrefix))
				}
				walk(sel.SelectionSet)
			case *language.InlineFragment:
				walk(sel.SelectionSet)
			}
		}
	}
	for _, op := range doc.Operations {
		for _, v := range op.VariableDefinitions {
			if strings.HasPrefix(v.Variable, reservedPrefix) {
				errs = append(errs, language.ErrorAt(v.Position, ReservedNameRule,
					`Variable "$%s" uses the reserved prefix "%s".`, v.Variable, reservedPrefix))
			}
		}
		walk(op.SelectionSet)
	}
	for _, f := range doc.Fragments {
		walk(f.SelectionSet)
	}
	return errs
}
