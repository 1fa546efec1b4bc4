package ir

import (
	"fmt"

	"github.com/cyclang/cyc/pkg/util"
)

type defSite struct{ block, index int }

// Verify checks the structural invariants codegen must uphold: every block
// ends in exactly one terminator, every block is reachable from the entry,
// every temporary is defined once and every use is dominated by its
// definition. Violations are compiler defects and come back as
// *util.CodegenError.
func Verify(prog *Program) error {
	globals := make(map[string]bool)
	for _, s := range prog.Strings {
		globals[s.Name] = true
	}
	for _, e := range prog.Externs {
		globals[e.Name] = true
	}
	for _, f := range prog.Funcs {
		globals[f.Name] = true
	}
	for _, f := range prog.Funcs {
		if err := verifyFunc(f, globals); err != nil {
			return err
		}
	}
	return nil
}

func funcErr(f *Func, format string, args ...interface{}) error {
	var pos util.Pos
	if f.Node != nil {
		pos = util.PosOf(f.Node.Tok)
	}
	return util.Codegenf(pos, "in function '%s': %s", f.Name, fmt.Sprintf(format, args...))
}

// Successors returns the labels a terminator can transfer control to.
func Successors(instr *Instruction) []*Label {
	var out []*Label
	switch instr.Op {
	case OpJmp:
		out = appendLabel(out, instr.Args, 0)
	case OpJnz:
		out = appendLabel(out, instr.Args, 1)
		out = appendLabel(out, instr.Args, 2)
	}
	return out
}

func appendLabel(out []*Label, args []Value, i int) []*Label {
	if i < len(args) {
		if l, ok := args[i].(*Label); ok {
			out = append(out, l)
		}
	}
	return out
}

func verifyFunc(f *Func, globals map[string]bool) error {
	if len(f.Blocks) == 0 {
		return funcErr(f, "function has no blocks")
	}

	index := make(map[string]int, len(f.Blocks))
	for i, b := range f.Blocks {
		if _, dup := index[b.Label.Name]; dup {
			return funcErr(f, "duplicate block label '%s'", b.Label.Name)
		}
		index[b.Label.Name] = i
	}

	succs := make([][]int, len(f.Blocks))
	preds := make([][]int, len(f.Blocks))
	for i, b := range f.Blocks {
		if len(b.Instructions) == 0 {
			return funcErr(f, "block '%s' is empty", b.Label.Name)
		}
		for j, instr := range b.Instructions {
			last := j == len(b.Instructions)-1
			if instr.Op.IsTerminator() && !last {
				return funcErr(f, "block '%s' has instructions after its terminator", b.Label.Name)
			}
			if last && !instr.Op.IsTerminator() {
				return funcErr(f, "block '%s' lacks a terminator", b.Label.Name)
			}
		}
		for _, l := range Successors(b.Terminator()) {
			t, ok := index[l.Name]
			if !ok {
				return funcErr(f, "block '%s' branches to unknown label '%s'", b.Label.Name, l.Name)
			}
			succs[i] = append(succs[i], t)
			preds[t] = append(preds[t], i)
		}
	}

	reachable := make([]bool, len(f.Blocks))
	work := []int{0}
	reachable[0] = true
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range succs[b] {
			if !reachable[s] {
				reachable[s] = true
				work = append(work, s)
			}
		}
	}
	for i, ok := range reachable {
		if !ok {
			return funcErr(f, "block '%s' is unreachable from entry", f.Blocks[i].Label.Name)
		}
	}

	defs := make(map[*Temporary]defSite)
	for _, p := range f.Params {
		defs[p.Val] = defSite{block: 0, index: -1}
	}
	for bi, b := range f.Blocks {
		for ii, instr := range b.Instructions {
			t, ok := instr.Result.(*Temporary)
			if !ok {
				continue
			}
			if _, dup := defs[t]; dup {
				return funcErr(f, "temporary %s is defined more than once", t)
			}
			defs[t] = defSite{block: bi, index: ii}
		}
	}

	dom := dominators(preds)
	dominates := func(def defSite, block, index int) bool {
		if def.block == block {
			return def.index < index
		}
		return dom[block][def.block]
	}

	for bi, b := range f.Blocks {
		for ii, instr := range b.Instructions {
			if instr.Op == OpCall {
				g, ok := instr.Args[0].(*Global)
				if !ok || !globals[g.Name] {
					return funcErr(f, "call to unregistered function %v", instr.Args[0])
				}
			}
			if instr.Op == OpPhi {
				if err := verifyPhi(f, instr, bi, index, preds, defs, dominates); err != nil {
					return err
				}
				continue
			}
			for _, arg := range instr.Args {
				switch v := arg.(type) {
				case *Temporary:
					def, ok := defs[v]
					if !ok {
						return funcErr(f, "use of undefined temporary %s in block '%s'", v, b.Label.Name)
					}
					if !dominates(def, bi, ii) {
						return funcErr(f, "use of %s in block '%s' is not dominated by its definition", v, b.Label.Name)
					}
				case *Global:
					if !globals[v.Name] {
						return funcErr(f, "reference to unknown global %s", v)
					}
				}
			}
		}
	}
	return nil
}

func verifyPhi(f *Func, instr *Instruction, block int, index map[string]int, preds [][]int,
	defs map[*Temporary]defSite, dominates func(defSite, int, int) bool) error {
	if len(instr.Args)%2 != 0 || len(instr.Args) == 0 {
		return funcErr(f, "malformed phi %s", instr.Result)
	}
	for i := 0; i < len(instr.Args); i += 2 {
		l, ok := instr.Args[i].(*Label)
		if !ok {
			return funcErr(f, "phi %s has a non-label incoming block", instr.Result)
		}
		pred, ok := index[l.Name]
		if !ok || !contains(preds[block], pred) {
			return funcErr(f, "phi %s names '%s', which is not a predecessor", instr.Result, l.Name)
		}
		t, ok := instr.Args[i+1].(*Temporary)
		if !ok {
			continue
		}
		def, ok := defs[t]
		if !ok {
			return funcErr(f, "phi uses undefined temporary %s", t)
		}
		// The value must be available at the end of the predecessor.
		if !dominates(def, pred, int(^uint(0)>>1)) {
			return funcErr(f, "phi operand %s does not dominate the end of '%s'", t, l.Name)
		}
	}
	return nil
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// dominators computes, for every block, the set of blocks that dominate it.
// Block 0 is the entry.
func dominators(preds [][]int) [][]bool {
	n := len(preds)
	dom := make([][]bool, n)
	for i := range dom {
		dom[i] = make([]bool, n)
		if i == 0 {
			dom[i][0] = true
			continue
		}
		for j := range dom[i] {
			dom[i][j] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for b := 1; b < n; b++ {
			next := make([]bool, n)
			for j := range next {
				next[j] = len(preds[b]) > 0
			}
			for _, p := range preds[b] {
				for j := range next {
					next[j] = next[j] && dom[p][j]
				}
			}
			next[b] = true
			for j := range next {
				if next[j] != dom[b][j] {
					changed = true
					dom[b] = next
					break
				}
			}
		}
	}
	return dom
}
