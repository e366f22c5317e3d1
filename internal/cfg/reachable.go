package cfg

import "go/ast"

// Func is one reachable code object (spec §4.3.1): a top-level
// function/method declaration or a closure literal nested anywhere
// inside one, the Go analogue of "every code object reachable by
// constants."
type Func struct {
	Name string
	Body *ast.BlockStmt
}

// Reachable enumerates every *ast.FuncDecl in file and every
// *ast.FuncLit nested within each one's body, recursively. Declarations
// without a body (forward declarations, cgo/assembly stubs) are
// skipped — there is no code to analyze.
func Reachable(file *ast.File) []Func {
	var out []Func
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		out = append(out, Func{Name: fd.Name.Name, Body: fd.Body})
		out = append(out, closuresIn(fd.Name.Name, fd.Body)...)
	}
	return out
}

func closuresIn(owner string, body *ast.BlockStmt) []Func {
	var out []Func
	n := 0
	ast.Inspect(body, func(node ast.Node) bool {
		lit, ok := node.(*ast.FuncLit)
		if !ok || lit.Body == nil {
			return true
		}
		n++
		name := owner + ".func" + itoa(n)
		out = append(out, Func{Name: name, Body: lit.Body})
		out = append(out, closuresIn(name, lit.Body)...)
		return false
	})
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
