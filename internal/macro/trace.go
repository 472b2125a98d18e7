package macro

import (
	"fmt"
	"strings"
)

// traceWidth bounds the text printed on one trace line at depth zero; each
// level of indentation takes two columns from it.
const traceWidth = 61

// printMacro writes the pre-expansion trace line for the construct at the
// start of s, which ends at end. The rest of the line follows a '^'.
func (x *state) printMacro(s string, end int) {
	d := x.depth
	if end <= 0 {
		fmt.Fprintf(x.diag, "%3d>%*s(empty)\n", d, 2*d+1, "")
		return
	}

	senl := end
	for senl < len(s) && !isEOL(s[senl]) {
		senl++
	}
	ellipsis := ""
	if chop := traceWidth - 2*d; senl > chop {
		senl = max(chop, 0)
		ellipsis = "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%3d>%*s%%%s^", d, 2*d+1, "", s[:end])
	if end+1 < senl {
		b.WriteString(s[end+1 : senl])
		b.WriteString(ellipsis)
	}
	b.WriteByte('\n')
	fmt.Fprint(x.diag, b.String())
}

// printExpansion writes the post-expansion trace line for output t. Below
// the outermost level only the last line of t is shown.
func (x *state) printExpansion(t string) {
	d := x.depth
	t = strings.TrimRight(t, "\r\n")
	if t == "" {
		fmt.Fprintf(x.diag, "%3d<%*s(empty)\n", d, 2*d+1, "")
		return
	}

	ellipsis := ""
	if d > 0 {
		if i := strings.LastIndexByte(t, '\n'); i >= 0 {
			t = t[i+1:]
		}
		if chop := traceWidth - 2*d; len(t) > chop {
			t = t[:max(chop, 0)]
			ellipsis = "..."
		}
	}
	fmt.Fprintf(x.diag, "%3d<%*s%s%s\n", d, 2*d+1, "", t, ellipsis)
}
