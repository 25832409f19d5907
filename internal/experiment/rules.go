package experiment

type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpIn       Operator = "in"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpContains Operator = "contains"
)

type RuleOp string

const (
	RuleAnd RuleOp = "and"
	RuleOr  RuleOp = "or"
)

// Condition compares one visitor attribute against a literal. A missing
// attribute fails the condition for every operator, including neq.
type Condition struct {
	Attribute string
	Op        Operator
	Value     string

	// Values is the literal set for the "in" operator.
	Values []string
}

// Rule is a tree node combining conditions and child rules under a
// single AND/OR operator.
type Rule struct {
	Op         RuleOp
	Conditions []Condition
	Children   []Rule
}

func validOperator(op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpIn, OpGt, OpLt, OpContains:
		return true
	}
	return false
}

func validRuleOp(op RuleOp) bool {
	return op == RuleAnd || op == RuleOr
}
