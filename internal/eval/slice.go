package eval

import (
	"fmt"
	"strings"

	"github.com/lattice-db/lattice/internal/ast"
	"github.com/lattice-db/lattice/internal/types"
)

// evalSlice implements the Python-style string slice expr[start:stop:step],
// where start/stop may also be given as a quoted pattern ("find this
// substring") instead of an integer index: pattern bounds resolve to the
// position of the first match, Include deciding whether the match itself
// falls inside or outside the slice.
func evalSlice(ctx *Context, n *ast.SliceExpr) (types.Value, error) {
	v, err := Eval(ctx, n.Operand)
	if err != nil {
		return types.Value{}, err
	}
	if v.Null {
		return types.NullValue(types.Text), nil
	}
	src := v.String()
	s := []rune(src)
	length := len(s)

	step := 1
	if n.Step.Set && n.Step.Index != nil {
		sv, err := Eval(ctx, n.Step.Index)
		if err != nil {
			return types.Value{}, err
		}
		if sv.Null {
			return types.NullValue(types.Text), nil
		}
		si, _ := sv.AsInt()
		if si == 0 {
			return types.Value{}, fmt.Errorf("eval: slice step cannot be zero")
		}
		step = int(si)
	}

	defaultStart, defaultStop := 0, length
	if step < 0 {
		defaultStart, defaultStop = length-1, -1
	}

	start, err := resolveBound(ctx, n.Start, s, length, defaultStart, true)
	if err != nil {
		return types.Value{}, err
	}
	stop, err := resolveBound(ctx, n.Stop, s, length, defaultStop, false)
	if err != nil {
		return types.Value{}, err
	}

	var out []rune
	if step > 0 {
		for i := clampIdx(start, length); i < length && i < stop; i += step {
			if i < 0 {
				continue
			}
			out = append(out, s[i])
		}
	} else {
		lo := -1
		for i := start; i >= 0 && i < length && i > stop && i > lo; i += step {
			out = append(out, s[i])
		}
	}
	return types.TextValue(string(out)), nil
}

func clampIdx(i, length int) int {
	if i < 0 {
		i = 0
	}
	if i > length {
		i = length
	}
	return i
}

// resolveBound resolves a SliceBound into an absolute rune index. isStart
// controls whether a pattern match's own characters fall inside the slice
// when Include is false (exclude-before vs exclude-after).
func resolveBound(ctx *Context, b ast.SliceBound, s []rune, length, defaultVal int, isStart bool) (int, error) {
	if !b.Set {
		return defaultVal, nil
	}
	if b.Pattern != "" {
		idx := strings.Index(string(s), b.Pattern)
		if idx < 0 {
			return defaultVal, nil
		}
		matchStart := len([]rune(string(s)[:idx]))
		matchEnd := matchStart + len([]rune(b.Pattern))
		if b.Include {
			if isStart {
				return matchStart, nil
			}
			return matchEnd, nil
		}
		if isStart {
			return matchEnd, nil
		}
		return matchStart, nil
	}
	if b.Index != nil {
		v, err := Eval(ctx, b.Index)
		if err != nil {
			return 0, err
		}
		if v.Null {
			return defaultVal, nil
		}
		i, _ := v.AsInt()
		idx := int(i)
		if idx < 0 {
			idx += length
		}
		return idx, nil
	}
	return defaultVal, nil
}
