package expression

// ConditionPaths returns every attribute path c refers to, in tree order.
func ConditionPaths(c Condition) []Path {
	var paths []Path
	walkCondition(c, &paths)
	return paths
}

func walkCondition(c Condition, paths *[]Path) {
	switch n := c.(type) {
	case Comparison:
		walkOperand(n.Left, paths)
		walkOperand(n.Right, paths)
	case Logical:
		for _, child := range n.Children {
			walkCondition(child, paths)
		}
	case Negation:
		walkCondition(n.Child, paths)
	case BetweenCondition:
		walkOperand(n.Operand, paths)
		walkOperand(n.Low, paths)
		walkOperand(n.High, paths)
	case InCondition:
		walkOperand(n.Operand, paths)
		for _, cand := range n.Candidates {
			walkOperand(cand, paths)
		}
	case FunctionCondition:
		*paths = append(*paths, n.Path)
		walkOperand(n.Arg, paths)
	}
}

func walkOperand(op Operand, paths *[]Path) {
	switch o := op.(type) {
	case Path:
		*paths = append(*paths, o)
	case Size:
		*paths = append(*paths, o.Path)
	case Arithmetic:
		walkOperand(o.Left, paths)
		walkOperand(o.Right, paths)
	case IfNotExistsOperand:
		*paths = append(*paths, o.Path)
		walkOperand(o.Default, paths)
	case ListAppendOperand:
		walkOperand(o.Left, paths)
		walkOperand(o.Right, paths)
	}
}
