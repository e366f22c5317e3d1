package gosrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCRLF(t *testing.T) {
	out := Normalize([]byte("a\r\nb\r\n"))
	assert.Equal(t, "a\nb\n", string(out))
}

func TestNormalizeAppendsTrailingNewline(t *testing.T) {
	out := Normalize([]byte("package p"))
	assert.Equal(t, "package p\n", string(out))
}

func TestNormalizeEmptySource(t *testing.T) {
	out := Normalize(nil)
	assert.Empty(t, out)
}

func TestScanProducesNewlineAtLastPhysicalLine(t *testing.T) {
	src := Normalize([]byte("package p\n\nfunc F() {\n\tx := 1 +\n\t\t2\n}\n"))
	toks, _, err := Scan("f.go", src)
	require.NoError(t, err)

	var newlineLines []int
	for _, tok := range toks {
		if tok.Kind == Newline {
			newlineLines = append(newlineLines, tok.EndLine)
		}
	}
	// The backslash-free, operator-continued "x := 1 +\n\t\t2" statement is
	// one logical statement; go/scanner auto-inserts its terminating
	// semicolon at the last physical line (5), not the first (4).
	assert.Contains(t, newlineLines, 5)
	assert.NotContains(t, newlineLines, 4)
}

func TestScanClassifiesKinds(t *testing.T) {
	src := Normalize([]byte(`package p

// doc
func F() {
	s := "hi"
	_ = 42
}
`))
	toks, _, err := Scan("f.go", src)
	require.NoError(t, err)

	var sawComment, sawString, sawNumber, sawName, sawOp bool
	for _, tok := range toks {
		switch tok.Kind {
		case Comment:
			sawComment = true
		case String:
			sawString = true
		case Number:
			sawNumber = true
		case Name:
			sawName = true
		case Op:
			sawOp = true
		}
	}
	assert.True(t, sawComment)
	assert.True(t, sawString)
	assert.True(t, sawNumber)
	assert.True(t, sawName)
	assert.True(t, sawOp)
}

func TestScanLineText(t *testing.T) {
	src := Normalize([]byte("package p\n\nfunc F() { x := 1; _ = x }\n"))
	toks, _, err := Scan("f.go", src)
	require.NoError(t, err)

	for _, tok := range toks {
		if tok.Kind == Name && tok.Text == "x" {
			assert.Contains(t, tok.LineText, "x := 1")
			return
		}
	}
	t.Fatal("did not find token for x")
}

func TestScanCouldNotParse(t *testing.T) {
	// A double-quoted string literal may not contain a literal newline;
	// go/scanner flags this immediately rather than waiting for EOF.
	src := Normalize([]byte("package p\n\nfunc F() { x := \"abc\nidentifier\" }\n"))
	_, _, err := Scan("f.go", src)
	require.Error(t, err)
	var parseErr *ErrCouldNotParse
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "f.go", parseErr.Path)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "COMMENT", Comment.String())
	assert.Equal(t, "STRING", String.String())
	assert.Equal(t, "NEWLINE", Newline.String())
	assert.Equal(t, "OTHER", Other.String())
}
