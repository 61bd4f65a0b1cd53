package textdiff

// OpKind tags a diff operation
type OpKind int

const (
	OpEqual OpKind = iota
	OpInsert
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpEqual:
		return "equal"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a contiguous run of lines sharing one operation kind
type Op struct {
	Kind  OpKind
	Lines []string
}

// Compute aligns a (old) with b (new) using a longest-common-subsequence
// table and returns coalesced Equal/Insert/Delete runs. When deleting and
// inserting keep the same LCS length, the delete is taken first so that
// change runs come out as one Delete followed by one Insert.
func Compute(a, b []string) []Op {
	// Common prefix and suffix are always part of an LCS; strip them so the
	// table only covers the changed middle.
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	var ops []Op
	ops = appendRun(ops, OpEqual, a[:prefix])
	ops = append(ops, diffMiddle(a[prefix:len(a)-suffix], b[prefix:len(b)-suffix])...)
	ops = appendRun(ops, OpEqual, a[len(a)-suffix:])
	return coalesce(ops)
}

// diffMiddle runs the O(n*m) table. table[i][j] is the LCS length of a[i:]
// and b[j:], filled backward from the ends.
func diffMiddle(a, b []string) []Op {
	n, m := len(a), len(b)
	if n == 0 {
		return appendRun(nil, OpInsert, b)
	}
	if m == 0 {
		return appendRun(nil, OpDelete, a)
	}

	width := m + 1
	table := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			} else {
				down := table[(i+1)*width+j]
				right := table[i*width+j+1]
				if down >= right {
					table[i*width+j] = down
				} else {
					table[i*width+j] = right
				}
			}
		}
	}

	var ops []Op
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = appendLine(ops, OpEqual, a[i])
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			ops = appendLine(ops, OpDelete, a[i])
			i++
		default:
			ops = appendLine(ops, OpInsert, b[j])
			j++
		}
	}
	ops = appendRun(ops, OpDelete, a[i:])
	ops = appendRun(ops, OpInsert, b[j:])
	return ops
}

func appendLine(ops []Op, kind OpKind, line string) []Op {
	if len(ops) > 0 && ops[len(ops)-1].Kind == kind {
		ops[len(ops)-1].Lines = append(ops[len(ops)-1].Lines, line)
		return ops
	}
	return append(ops, Op{Kind: kind, Lines: []string{line}})
}

func appendRun(ops []Op, kind OpKind, lines []string) []Op {
	if len(lines) == 0 {
		return ops
	}
	run := make([]string, len(lines))
	copy(run, lines)
	return append(ops, Op{Kind: kind, Lines: run})
}

// coalesce merges adjacent ops of the same kind and drops empty ones. The
// input is not modified.
func coalesce(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if len(op.Lines) == 0 {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Kind == op.Kind {
			last := &out[len(out)-1]
			merged := make([]string, 0, len(last.Lines)+len(op.Lines))
			merged = append(merged, last.Lines...)
			merged = append(merged, op.Lines...)
			last.Lines = merged
			continue
		}
		out = append(out, op)
	}
	return out
}

// OldLines reconstructs the old side (Equal + Delete) from ops
func OldLines(ops []Op) []string {
	var lines []string
	for _, op := range ops {
		if op.Kind != OpInsert {
			lines = append(lines, op.Lines...)
		}
	}
	return lines
}

// NewLines reconstructs the new side (Equal + Insert) from ops
func NewLines(ops []Op) []string {
	var lines []string
	for _, op := range ops {
		if op.Kind != OpDelete {
			lines = append(lines, op.Lines...)
		}
	}
	return lines
}
