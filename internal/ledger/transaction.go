// Package ledger describes programmable transactions for the Sui ledger and the boundary that
// signs, submits and confirms them.
package ledger

import "fmt"

// DefaultGasBudget is the budget attached to inference transactions unless configured otherwise.
const DefaultGasBudget uint64 = 3_000_000_000

// ArgKind tags the variant held by an Argument.
type ArgKind string

const (
	ArgObject       ArgKind = "object"
	ArgU64          ArgKind = "u64"
	ArgU64Vector    ArgKind = "vector<u64>"
	ArgU64Matrix    ArgKind = "vector<vector<u64>>"
	ArgString       ArgKind = "string"
	ArgNestedResult ArgKind = "nested_result"
)

// Argument is one input to a move call: a shared object, a pure value, or the output of an
// earlier command in the same transaction.
type Argument struct {
	Kind      ArgKind    `json:"kind"`
	Object    string     `json:"object,omitempty"`
	U64       uint64     `json:"u64,omitempty"`
	U64Vector []uint64   `json:"u64_vector,omitempty"`
	U64Matrix [][]uint64 `json:"u64_matrix,omitempty"`
	String    string     `json:"string,omitempty"`
	Command   int        `json:"command,omitempty"`
	Index     int        `json:"index,omitempty"`
}

func Object(id string) Argument { return Argument{Kind: ArgObject, Object: id} }

func U64(v uint64) Argument { return Argument{Kind: ArgU64, U64: v} }

// U64Vector copies vs so later mutation by the caller does not leak into the transaction.
func U64Vector(vs []uint64) Argument {
	return Argument{Kind: ArgU64Vector, U64Vector: append([]uint64{}, vs...)}
}

func U64Matrix(vs [][]uint64) Argument {
	out := make([][]uint64, len(vs))
	for i := range vs {
		out[i] = append([]uint64{}, vs[i]...)
	}
	return Argument{Kind: ArgU64Matrix, U64Matrix: out}
}

func String(s string) Argument { return Argument{Kind: ArgString, String: s} }

// MoveCall invokes package::module::function.
type MoveCall struct {
	Package   string     `json:"package"`
	Module    string     `json:"module"`
	Function  string     `json:"function"`
	Arguments []Argument `json:"arguments"`
}

// Target returns the fully qualified function name.
func (m MoveCall) Target() string {
	return fmt.Sprintf("%s::%s::%s", m.Package, m.Module, m.Function)
}

// Result refers to the outputs of a command inside a transaction.
type Result struct {
	Command int
}

// Nested selects output i of the command.
func (r Result) Nested(i int) Argument {
	return Argument{Kind: ArgNestedResult, Command: r.Command, Index: i}
}

// Transaction is an unsigned programmable transaction.
type Transaction struct {
	Sender    string     `json:"sender,omitempty"`
	GasBudget uint64     `json:"gas_budget"`
	Commands  []MoveCall `json:"commands"`
}

// NewTransaction returns an empty transaction with the given gas budget.
func NewTransaction(gasBudget uint64) *Transaction {
	if gasBudget == 0 {
		gasBudget = DefaultGasBudget
	}
	return &Transaction{GasBudget: gasBudget}
}

// MoveCall appends a call and returns a handle to its results.
func (tx *Transaction) MoveCall(pkg, module, function string, args ...Argument) Result {
	tx.Commands = append(tx.Commands, MoveCall{
		Package:   pkg,
		Module:    module,
		Function:  function,
		Arguments: args,
	})
	return Result{Command: len(tx.Commands) - 1}
}
