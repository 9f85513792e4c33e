package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Strategy selects how a Locator finds its element
type Strategy string

const (
	ByPlaceholder Strategy = "placeholder"
	ByRole        Strategy = "role"
	ByText        Strategy = "text"
)

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

// Locator describes an element query. It is compiled to XPath and resolved
// against the live DOM every time it is used.
//
// Matching follows the usual end-to-end testing conventions: text is compared
// after whitespace normalisation, case-insensitively and as a substring,
// unless Exact is set.
type Locator struct {
	Strategy Strategy
	Role     string
	Value    string
	Exact    bool
}

// Placeholder locates an input or textarea by its placeholder text
func Placeholder(text string) Locator {
	return Locator{Strategy: ByPlaceholder, Value: text}
}

// Role locates an element by ARIA role and accessible name
func Role(role, name string) Locator {
	return Locator{Strategy: ByRole, Role: role, Value: name}
}

// Text locates the innermost element whose text content contains the given text
func Text(text string) Locator {
	return Locator{Strategy: ByText, Value: text}
}

// WithExact returns a copy that requires a case-sensitive full match
func (l Locator) WithExact() Locator {
	l.Exact = true
	return l
}

func (l Locator) String() string {
	switch l.Strategy {
	case ByRole:
		return fmt.Sprintf("role=%s[name=%q]", l.Role, l.Value)
	default:
		return fmt.Sprintf("%s=%q", l.Strategy, l.Value)
	}
}

// XPath compiles the locator to an XPath 1.0 expression
func (l Locator) XPath() string {
	switch l.Strategy {
	case ByPlaceholder:
		return fmt.Sprintf("//*[self::input or self::textarea][%s]", l.match("@placeholder"))
	case ByRole:
		return fmt.Sprintf("//*[%s][%s]", roleCondition(l.Role), l.nameCondition())
	default:
		// Deepest element whose full text matches, so text split across inline
		// children (<p>Hello, <strong>world</strong>!</p>) resolves to the <p>
		return fmt.Sprintf("//*[not(%s)][%s][not(*[%s])]", nonRendered, l.match("."), l.match("."))
	}
}

// nonRendered excludes elements whose text never appears on the page
const nonRendered = "self::script or self::style or self::noscript or self::template or self::head or self::title"

// match builds a predicate comparing the string value of expr with the locator value
func (l Locator) match(expr string) string {
	want := normalizeSpace(l.Value)
	if l.Exact {
		return fmt.Sprintf("normalize-space(%s) = %s", expr, xpathLiteral(want))
	}
	return fmt.Sprintf("contains(translate(normalize-space(%s), '%s', '%s'), %s)",
		expr, upperASCII, lowerASCII, xpathLiteral(strings.ToLower(want)))
}

// nameCondition approximates the accessible name: aria-label wins, otherwise
// text content, value or title.
func (l Locator) nameCondition() string {
	return fmt.Sprintf("(@aria-label and %s) or (not(@aria-label) and (%s or %s or %s))",
		l.match("@aria-label"), l.match("."), l.match("@value"), l.match("@title"))
}

func roleCondition(role string) string {
	explicit := fmt.Sprintf("@role=%s", xpathLiteral(role))
	switch role {
	case "button":
		return explicit + " or self::button or (self::input and (@type='button' or @type='submit' or @type='reset' or @type='image'))"
	case "link":
		return explicit + " or (self::a and @href)"
	case "textbox":
		return explicit + " or self::textarea or (self::input and (not(@type) or @type='text' or @type='search' or @type='email' or @type='url'))"
	case "checkbox":
		return explicit + " or (self::input and @type='checkbox')"
	case "heading":
		return explicit + " or self::h1 or self::h2 or self::h3 or self::h4 or self::h5 or self::h6"
	default:
		return explicit
	}
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// visibilityScript returns a JavaScript expression that evaluates to true when
// any element matched by the locator is rendered, or, with wantVisible false,
// when none is.
func visibilityScript(l Locator, wantVisible bool) string {
	xpath, _ := json.Marshal(l.XPath())
	script := fmt.Sprintf(`(() => {
	const snap = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (let i = 0; i < snap.snapshotLength; i++) {
		const el = snap.snapshotItem(i);
		if (!(el instanceof Element)) continue;
		const style = window.getComputedStyle(el);
		if (style.visibility === 'hidden' || style.display === 'none') continue;
		const rect = el.getBoundingClientRect();
		if (rect.width > 0 && rect.height > 0) return true;
	}
	return false;
})()`, xpath)
	if wantVisible {
		return script
	}
	return "!" + script
}
