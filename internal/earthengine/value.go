package earthengine

import (
	"encoding/json"
	"sort"
	"strconv"
)

type nodeKind int

const (
	kindConstant nodeKind = iota
	kindInvocation
	kindArray
	kindDictionary
	kindArgument
	kindFunction
)

// Node is one vertex of a computation graph. Graphs are immutable once built
// and may share subtrees.
type Node struct {
	kind     nodeKind
	constant any
	function string
	args     map[string]*Node
	items    []*Node
	entries  map[string]*Node
	argName  string
	params   []string
	body     *Node
}

// Value is anything that can be evaluated by the backend.
type Value interface {
	Node() *Node
}

// Node lets a *Node be used wherever a Value is expected.
func (n *Node) Node() *Node { return n }

// Constant wraps a JSON-encodable literal.
func Constant(v any) *Node {
	return &Node{kind: kindConstant, constant: v}
}

// Args are named arguments of a backend function. Nil values are dropped.
type Args map[string]Value

// Invoke calls a backend algorithm by name.
func Invoke(function string, args Args) *Node {
	n := &Node{kind: kindInvocation, function: function, args: make(map[string]*Node, len(args))}
	for name, v := range args {
		if v == nil || v.Node() == nil {
			continue
		}
		n.args[name] = v.Node()
	}
	return n
}

// Array builds a list value from its items.
func Array(items ...Value) *Node {
	n := &Node{kind: kindArray, items: make([]*Node, 0, len(items))}
	for _, v := range items {
		n.items = append(n.items, v.Node())
	}
	return n
}

// Dictionary builds a dictionary value.
func Dictionary(entries map[string]Value) *Node {
	n := &Node{kind: kindDictionary, entries: make(map[string]*Node, len(entries))}
	for k, v := range entries {
		n.entries[k] = v.Node()
	}
	return n
}

func argument(name string) *Node {
	return &Node{kind: kindArgument, argName: name}
}

func function(params []string, body *Node) *Node {
	return &Node{kind: kindFunction, params: params, body: body}
}

// Function returns the algorithm name of an invocation node, or "".
func (n *Node) Function() string {
	if n.kind != kindInvocation {
		return ""
	}
	return n.function
}

// Arg returns a named argument of an invocation node.
func (n *Node) Arg(name string) *Node {
	if n.kind != kindInvocation {
		return nil
	}
	return n.args[name]
}

// ConstantValue returns the literal held by a constant node.
func (n *Node) ConstantValue() (any, bool) {
	if n.kind != kindConstant {
		return nil, false
	}
	return n.constant, true
}

// Expression is the REST wire form of a graph: a flat table of values and the
// key of the result.
type Expression struct {
	Result string                `json:"result"`
	Values map[string]*ValueNode `json:"values"`
}

// ValueNode is one entry of an Expression. Exactly one field is set.
type ValueNode struct {
	ConstantValue           json.RawMessage     `json:"constantValue,omitempty"`
	FunctionInvocationValue *FunctionInvocation `json:"functionInvocationValue,omitempty"`
	ArrayValue              *ArrayValue         `json:"arrayValue,omitempty"`
	DictionaryValue         *DictionaryValue    `json:"dictionaryValue,omitempty"`
	ArgumentReference       string              `json:"argumentReference,omitempty"`
	FunctionDefinitionValue *FunctionDefinition `json:"functionDefinitionValue,omitempty"`
	ValueReference          string              `json:"valueReference,omitempty"`
}

// FunctionInvocation calls a named algorithm.
type FunctionInvocation struct {
	FunctionName string                `json:"functionName"`
	Arguments    map[string]*ValueNode `json:"arguments"`
}

// ArrayValue is a list of values.
type ArrayValue struct {
	Values []*ValueNode `json:"values"`
}

// DictionaryValue is a map of values.
type DictionaryValue struct {
	Values map[string]*ValueNode `json:"values"`
}

// FunctionDefinition is a lambda whose body is a key of Expression.Values.
type FunctionDefinition struct {
	ArgumentNames []string `json:"argumentNames"`
	Body          string   `json:"body"`
}

// Encode flattens a graph into its wire Expression. Subtrees reached more
// than once are emitted once and referenced by key.
func Encode(v Value) (*Expression, error) {
	e := &encoder{
		refs:   make(map[*Node]int),
		keys:   make(map[*Node]string),
		values: make(map[string]*ValueNode),
	}
	root := v.Node()
	e.count(root)

	encoded, err := e.encode(root)
	if err != nil {
		return nil, err
	}

	result := encoded.ValueReference
	if result == "" {
		result = e.nextKey()
		e.values[result] = encoded
	}
	return &Expression{Result: result, Values: e.values}, nil
}

type encoder struct {
	refs   map[*Node]int
	keys   map[*Node]string
	values map[string]*ValueNode
	seq    int
}

func (e *encoder) nextKey() string {
	k := strconv.Itoa(e.seq)
	e.seq++
	return k
}

func (e *encoder) count(n *Node) {
	e.refs[n]++
	if e.refs[n] > 1 {
		return
	}
	switch n.kind {
	case kindInvocation:
		for _, name := range sortedKeys(n.args) {
			e.count(n.args[name])
		}
	case kindArray:
		for _, item := range n.items {
			e.count(item)
		}
	case kindDictionary:
		for _, k := range sortedKeys(n.entries) {
			e.count(n.entries[k])
		}
	case kindFunction:
		e.count(n.body)
	}
}

func (e *encoder) shared(n *Node) bool {
	switch n.kind {
	case kindInvocation, kindArray, kindDictionary:
		return e.refs[n] > 1
	}
	return false
}

func (e *encoder) encode(n *Node) (*ValueNode, error) {
	if key, ok := e.keys[n]; ok {
		return &ValueNode{ValueReference: key}, nil
	}

	var out *ValueNode
	switch n.kind {
	case kindConstant:
		raw, err := json.Marshal(n.constant)
		if err != nil {
			return nil, err
		}
		out = &ValueNode{ConstantValue: raw}

	case kindInvocation:
		args := make(map[string]*ValueNode, len(n.args))
		for _, name := range sortedKeys(n.args) {
			a, err := e.encode(n.args[name])
			if err != nil {
				return nil, err
			}
			args[name] = a
		}
		out = &ValueNode{FunctionInvocationValue: &FunctionInvocation{FunctionName: n.function, Arguments: args}}

	case kindArray:
		items := make([]*ValueNode, 0, len(n.items))
		for _, item := range n.items {
			enc, err := e.encode(item)
			if err != nil {
				return nil, err
			}
			items = append(items, enc)
		}
		out = &ValueNode{ArrayValue: &ArrayValue{Values: items}}

	case kindDictionary:
		entries := make(map[string]*ValueNode, len(n.entries))
		for _, k := range sortedKeys(n.entries) {
			enc, err := e.encode(n.entries[k])
			if err != nil {
				return nil, err
			}
			entries[k] = enc
		}
		out = &ValueNode{DictionaryValue: &DictionaryValue{Values: entries}}

	case kindArgument:
		return &ValueNode{ArgumentReference: n.argName}, nil

	case kindFunction:
		body, err := e.encode(n.body)
		if err != nil {
			return nil, err
		}
		bodyKey := body.ValueReference
		if bodyKey == "" {
			bodyKey = e.nextKey()
			e.values[bodyKey] = body
		}
		return &ValueNode{FunctionDefinitionValue: &FunctionDefinition{ArgumentNames: n.params, Body: bodyKey}}, nil
	}

	if e.shared(n) {
		key := e.nextKey()
		e.keys[n] = key
		e.values[key] = out
		return &ValueNode{ValueReference: key}, nil
	}
	return out, nil
}

func sortedKeys(m map[string]*Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
