package render

import "strings"

type commentStyle struct {
	open  string
	close string
}

var (
	slashComment = commentStyle{open: "// "}
	hashComment  = commentStyle{open: "# "}
	htmlComment  = commentStyle{open: "<!-- ", close: " -->"}
	blockComment = commentStyle{open: "/* ", close: " */"}
)

var languageComments = map[string]commentStyle{
	"cpp":        slashComment,
	"c++":        slashComment,
	"java":       slashComment,
	"javascript": slashComment,
	"csharp":     slashComment,
	"python":     hashComment,
	"html":       htmlComment,
	"css":        blockComment,
	"sql":        blockComment,
	"plsql":      blockComment,
	"ruby":       blockComment,
	"php":        blockComment,
}

// annotate rewrites the first line of a code span into a comment when it
// names a known language. The original line is kept verbatim inside the
// comment.
func annotate(span string) (string, string) {
	first, rest, hasRest := strings.Cut(span, "\n")
	lang := strings.ToLower(strings.TrimSpace(first))
	style, ok := languageComments[lang]
	if !ok {
		return span, ""
	}
	line := style.open + first + style.close
	if !hasRest {
		return line, lang
	}
	return line + "\n" + rest, lang
}
