// Package cfg is the spec's Structural Parser (§4.3), redesigned per
// spec §9 option (b): instead of splitting a compiled code object's
// bytecode into chunks, it walks go/ast control-flow nodes directly and
// builds the same shape of result — a block graph with explicit exits,
// collapsed into a line-granularity arc set including the synthetic
// entry/exit sentinel.
//
// Every ast.Stmt this builder creates a Block for already carries a
// real source line (go/ast positions replace the bytecode line-number
// table), so unlike the original's chunk split there is no invisible,
// zero-line opcode run to collapse — the DFS-based line-reachability
// helper below still exists for block-graph robustness (an empty
// function body, or a future node kind folded through fall-through) but
// rarely has more than one hop to resolve.
package cfg

import (
	"go/ast"
	"go/token"
)

// Exit is the sentinel "this transfers control out of the function"
// target, mirroring the spec's byte-offset sentinel -1.
const Exit = -1

// Arc is an ordered line-to-line control-flow transition. From or To
// equal to Exit denotes the function's synthetic entry/exit marker.
// Self-loops (From == To) are never emitted (spec §9 convention).
type Arc struct {
	From, To int
}

// Block is the spec's Chunk, re-grounded: Line is the source line of
// the statement this block represents (every block the builder creates
// has one; lineReach still resolves a zero-line block through its
// exits), and Exits lists the blocks (or Exit) control can transfer to.
type Block struct {
	Line  int
	Exits []int
}

// Result is one function's (or closure's) recovered control-flow
// model: every reachable statement-start line and the full arc set.
type Result struct {
	Statements map[int]struct{}
	Arcs       map[Arc]struct{}
}

// UnknownNodeFunc is invoked for an ast.Stmt kind the builder doesn't
// classify (§4.3.3's "UnknownOpcode", re-grounded as UnknownNode); it
// is always non-fatal — the statement is treated as a plain
// fall-through block.
type UnknownNodeFunc func(line int, kind string)

// Build recovers the control-flow model for a single function body.
// body is the *ast.BlockStmt of an *ast.FuncDecl or *ast.FuncLit; the
// caller is responsible for enumerating reachable functions (§4.3.1).
func Build(fset *token.FileSet, body *ast.BlockStmt, onUnknown UnknownNodeFunc) *Result {
	b := &builder{fset: fset, labels: map[string]int{}, onUnknown: onUnknown}
	entry := b.buildList(body.List, Exit, &ctx{})
	b.resolvePending()

	res := &Result{Statements: map[int]struct{}{}, Arcs: map[Arc]struct{}{}}
	for _, blk := range b.blocks {
		if blk.Line != 0 {
			res.Statements[blk.Line] = struct{}{}
		}
	}

	memo := map[int]map[int]struct{}{}
	reach := func(id int) map[int]struct{} { return b.lineReach(id, memo) }

	for _, blk := range b.blocks {
		if blk.Line == 0 {
			continue
		}
		for _, e := range blk.Exits {
			for l := range reach(e) {
				if l != blk.Line {
					res.Arcs[Arc{From: blk.Line, To: l}] = struct{}{}
				}
			}
		}
	}
	for l := range reach(entry) {
		if l != Exit {
			res.Arcs[Arc{From: Exit, To: l}] = struct{}{}
		}
	}
	return res
}

// Merge unions src into dst in place.
func (r *Result) Merge(src *Result) {
	for l := range src.Statements {
		r.Statements[l] = struct{}{}
	}
	for a := range src.Arcs {
		r.Arcs[a] = struct{}{}
	}
}

// frame is the spec's BlockStackEntry, re-grounded for Go's structured
// break/continue instead of CPython's SETUP_LOOP block stack.
type frame struct {
	label          string
	isLoop         bool
	breakTarget    int
	continueTarget int
}

type ctx struct {
	loopStack         []frame
	fallthroughTarget int
	haveFallthrough   bool
}

func (c *ctx) withFrame(f frame) *ctx {
	nc := *c
	nc.loopStack = append(append([]frame{}, c.loopStack...), f)
	return &nc
}

func (c *ctx) withFallthrough(target int) *ctx {
	nc := *c
	nc.fallthroughTarget = target
	nc.haveFallthrough = true
	return &nc
}

type pendingGoto struct {
	id    int
	label string
}

type builder struct {
	fset      *token.FileSet
	blocks    []Block
	labels    map[string]int
	pending   []pendingGoto
	onUnknown UnknownNodeFunc
}

func (b *builder) newBlock(line int) int {
	b.blocks = append(b.blocks, Block{Line: line})
	return len(b.blocks) - 1
}

func (b *builder) setExits(id int, exits ...int) {
	b.blocks[id].Exits = append(b.blocks[id].Exits, exits...)
}

func (b *builder) line(pos token.Pos) int {
	return b.fset.Position(pos).Line
}

func (b *builder) resolvePending() {
	for _, p := range b.pending {
		if target, ok := b.labels[p.label]; ok {
			b.setExits(p.id, target)
		} else {
			b.setExits(p.id, Exit)
		}
	}
}

// lineReach is the spec's byte_lines DFS (§4.3.4 step 2), collapsing
// any zero-line join block into the first real line (or Exit) it flows
// into. memo guards against revisiting and against cycles in malformed
// graphs (none expected from well-formed Go, but the guard is cheap).
func (b *builder) lineReach(id int, memo map[int]map[int]struct{}) map[int]struct{} {
	if id == Exit {
		return map[int]struct{}{Exit: {}}
	}
	if cached, ok := memo[id]; ok {
		return cached
	}
	blk := b.blocks[id]
	if blk.Line != 0 {
		set := map[int]struct{}{blk.Line: {}}
		memo[id] = set
		return set
	}
	memo[id] = map[int]struct{}{} // break cycles
	set := map[int]struct{}{}
	for _, e := range blk.Exits {
		for l := range b.lineReach(e, memo) {
			set[l] = struct{}{}
		}
	}
	memo[id] = set
	return set
}

// buildList wires a statement sequence in reverse (last-to-first) so
// that every statement's fall-through successor is already known, and
// so that forward gotos (jumping to a later label) resolve immediately
// while backward gotos become pending patches resolved once the whole
// function has been walked.
func (b *builder) buildList(stmts []ast.Stmt, next int, c *ctx) int {
	for i := len(stmts) - 1; i >= 0; i-- {
		next = b.buildStmt(stmts[i], next, "", c)
	}
	return next
}

func isPanicCall(s *ast.ExprStmt) bool {
	call, ok := s.X.(*ast.CallExpr)
	if !ok {
		return false
	}
	ident, ok := call.Fun.(*ast.Ident)
	return ok && ident.Name == "panic"
}

func resolveBreak(c *ctx, label *ast.Ident) int {
	if label == nil {
		if len(c.loopStack) == 0 {
			return Exit
		}
		return c.loopStack[len(c.loopStack)-1].breakTarget
	}
	for i := len(c.loopStack) - 1; i >= 0; i-- {
		if c.loopStack[i].label == label.Name {
			return c.loopStack[i].breakTarget
		}
	}
	return Exit
}

func resolveContinue(c *ctx, label *ast.Ident) int {
	if label == nil {
		for i := len(c.loopStack) - 1; i >= 0; i-- {
			if c.loopStack[i].isLoop {
				return c.loopStack[i].continueTarget
			}
		}
		return Exit
	}
	for i := len(c.loopStack) - 1; i >= 0; i-- {
		if c.loopStack[i].label == label.Name && c.loopStack[i].isLoop {
			return c.loopStack[i].continueTarget
		}
	}
	return Exit
}

func (b *builder) buildStmt(stmt ast.Stmt, next int, label string, c *ctx) int {
	switch s := stmt.(type) {
	case *ast.EmptyStmt:
		return next

	case *ast.LabeledStmt:
		entry := b.buildStmt(s.Stmt, next, s.Label.Name, c)
		b.labels[s.Label.Name] = entry
		return entry

	case *ast.BlockStmt:
		return b.buildList(s.List, next, c)

	case *ast.ReturnStmt:
		id := b.newBlock(b.line(s.Pos()))
		b.setExits(id, Exit)
		return id

	case *ast.BranchStmt:
		id := b.newBlock(b.line(s.Pos()))
		switch s.Tok {
		case token.BREAK:
			b.setExits(id, resolveBreak(c, s.Label))
		case token.CONTINUE:
			b.setExits(id, resolveContinue(c, s.Label))
		case token.GOTO:
			if entry, ok := b.labels[s.Label.Name]; ok {
				b.setExits(id, entry)
			} else {
				b.pending = append(b.pending, pendingGoto{id: id, label: s.Label.Name})
			}
		case token.FALLTHROUGH:
			if c.haveFallthrough {
				b.setExits(id, c.fallthroughTarget)
			} else {
				b.setExits(id, next)
			}
		}
		return id

	case *ast.ExprStmt:
		if isPanicCall(s) {
			id := b.newBlock(b.line(s.Pos()))
			b.setExits(id, Exit)
			return id
		}
		id := b.newBlock(b.line(s.Pos()))
		b.setExits(id, next)
		return id

	case *ast.IfStmt:
		var elseEntry int
		if s.Else != nil {
			elseEntry = b.buildStmt(s.Else, next, "", c)
		} else {
			elseEntry = next
		}
		bodyEntry := b.buildList(s.Body.List, next, c)
		condID := b.newBlock(b.line(s.If))
		b.setExits(condID, bodyEntry, elseEntry)
		entry := condID
		if s.Init != nil {
			entry = b.buildStmt(s.Init, condID, "", c)
		}
		return entry

	case *ast.ForStmt:
		afterLoop := next
		condID := b.newBlock(b.line(s.For))
		postID := condID
		if s.Post != nil {
			postID = b.buildStmt(s.Post, condID, "", c)
		}
		loopCtx := c.withFrame(frame{label: label, isLoop: true, breakTarget: afterLoop, continueTarget: postID})
		bodyEntry := postID
		if s.Body != nil {
			bodyEntry = b.buildList(s.Body.List, postID, loopCtx)
		}
		if s.Cond != nil {
			b.setExits(condID, bodyEntry, afterLoop)
		} else {
			b.setExits(condID, bodyEntry)
		}
		entry := condID
		if s.Init != nil {
			entry = b.buildStmt(s.Init, condID, "", c)
		}
		return entry

	case *ast.RangeStmt:
		afterLoop := next
		headerID := b.newBlock(b.line(s.For))
		loopCtx := c.withFrame(frame{label: label, isLoop: true, breakTarget: afterLoop, continueTarget: headerID})
		bodyEntry := headerID
		if s.Body != nil {
			bodyEntry = b.buildList(s.Body.List, headerID, loopCtx)
		}
		b.setExits(headerID, bodyEntry, afterLoop)
		return headerID

	case *ast.SwitchStmt:
		return b.buildSwitchLike(s.Switch, s.Init, s.Body.List, label, next, c, false)

	case *ast.TypeSwitchStmt:
		return b.buildSwitchLike(s.Switch, s.Init, s.Body.List, label, next, c, false)

	case *ast.SelectStmt:
		return b.buildSwitchLike(s.Select, nil, s.Body.List, label, next, c, true)

	case *ast.DeferStmt, *ast.GoStmt, *ast.AssignStmt, *ast.DeclStmt, *ast.IncDecStmt,
		*ast.SendStmt:
		id := b.newBlock(b.line(s.Pos()))
		b.setExits(id, next)
		return id

	default:
		if b.onUnknown != nil {
			b.onUnknown(b.line(s.Pos()), unknownKind(s))
		}
		id := b.newBlock(b.line(s.Pos()))
		b.setExits(id, next)
		return id
	}
}

func unknownKind(s ast.Stmt) string {
	switch s.(type) {
	case *ast.CaseClause:
		return "CaseClause"
	case *ast.CommClause:
		return "CommClause"
	default:
		return "Stmt"
	}
}

// buildSwitchLike covers *ast.SwitchStmt, *ast.TypeSwitchStmt and
// *ast.SelectStmt: every clause is a branch target from the header
// line, `fallthrough` (switch only) is a real exit to the next clause,
// and — for a switch or type switch without a default clause — the
// header also falls through to whatever follows the switch when no
// clause matches. A select header gets that exit only when it has no
// clauses at all.
func (b *builder) buildSwitchLike(headerPos token.Pos, init ast.Stmt, clauses []ast.Stmt, label string, next int, c *ctx, isSelect bool) int {
	afterSwitch := next
	switchCtx := c.withFrame(frame{label: label, isLoop: false, breakTarget: afterSwitch, continueTarget: -2})
	// continueTarget -2 is a sentinel meaning "not a loop frame"; resolveContinue
	// skips frames with isLoop == false regardless of this value.

	hasDefault := false
	entries := make([]int, len(clauses))
	nextClauseEntry := afterSwitch
	for i := len(clauses) - 1; i >= 0; i-- {
		var body []ast.Stmt
		var isDefault bool
		switch cc := clauses[i].(type) {
		case *ast.CaseClause:
			body = cc.Body
			isDefault = cc.List == nil
		case *ast.CommClause:
			body = cc.Body
			isDefault = cc.Comm == nil
		}
		if isDefault {
			hasDefault = true
		}
		clauseCtx := switchCtx.withFallthrough(nextClauseEntry)
		entry := b.buildList(body, afterSwitch, clauseCtx)
		entries[i] = entry
		nextClauseEntry = entry
	}

	headerID := b.newBlock(b.line(headerPos))
	exits := append([]int{}, entries...)
	if !hasDefault && !isSelect {
		exits = append(exits, afterSwitch)
	}
	if len(exits) == 0 {
		exits = []int{afterSwitch}
	}
	b.setExits(headerID, exits...)

	entry := headerID
	if init != nil {
		entry = b.buildStmt(init, headerID, "", c)
	}
	return entry
}
