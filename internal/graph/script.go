package graph

import (
	"context"
	"strings"
	"unicode"
)

// ScriptAnalysis is the static usage inventory of one Python script.
type ScriptAnalysis struct {
	Imports           []string
	Instantiations    []Instantiation
	MethodCalls       []MethodCall
	FunctionCalls     []FunctionCall
	AttributeAccesses []AttributeAccess

	// variable name to class name, from assignments like x = Foo()
	variableClasses map[string]string
}

type Instantiation struct {
	ClassName string
	Variable  string
	Line      int
}

type MethodCall struct {
	Object string
	Method string
	Line   int
}

type FunctionCall struct {
	Name string
	Line int
}

type AttributeAccess struct {
	Object    string
	Attribute string
	Line      int
}

// ClassOf resolves the class a variable was instantiated from, if the
// script assigned it directly.
func (a *ScriptAnalysis) ClassOf(variable string) string {
	return a.variableClasses[variable]
}

var pythonBuiltins = map[string]struct{}{
	"print": {}, "len": {}, "range": {}, "str": {}, "int": {}, "float": {},
	"bool": {}, "list": {}, "dict": {}, "set": {}, "tuple": {}, "open": {},
	"isinstance": {}, "issubclass": {}, "super": {}, "enumerate": {}, "zip": {},
	"map": {}, "filter": {}, "sorted": {}, "reversed": {}, "sum": {}, "min": {},
	"max": {}, "abs": {}, "round": {}, "type": {}, "getattr": {}, "setattr": {},
	"hasattr": {}, "repr": {}, "input": {}, "iter": {}, "next": {}, "vars": {},
	"Exception": {}, "ValueError": {}, "TypeError": {}, "KeyError": {},
	"RuntimeError": {}, "StopIteration": {}, "NotImplementedError": {},
}

// AnalyzeScript inventories imports, instantiations, calls and
// attribute accesses of a Python script.
func AnalyzeScript(ctx context.Context, source []byte) (*ScriptAnalysis, error) {
	root, err := parsePython(ctx, source)
	if err != nil {
		return nil, err
	}

	analysis := &ScriptAnalysis{variableClasses: make(map[string]string)}

	for _, imp := range root.FindAllByType("import_statement") {
		analysis.Imports = append(analysis.Imports, importedModules(imp, source)...)
	}
	for _, imp := range root.FindAllByType("import_from_statement") {
		analysis.Imports = append(analysis.Imports, importedModules(imp, source)...)
	}

	// attribute nodes consumed as call targets are not plain accesses
	callTargets := make(map[*Node]struct{})

	for _, call := range root.FindAllByType("call") {
		if len(call.Children) == 0 {
			continue
		}
		fn := call.Children[0]
		switch fn.Type {
		case "identifier":
			name := fn.Content(source)
			if _, builtin := pythonBuiltins[name]; builtin {
				continue
			}
			if isClassName(name) {
				analysis.Instantiations = append(analysis.Instantiations, Instantiation{
					ClassName: name,
					Line:      call.Line(),
				})
			} else {
				analysis.FunctionCalls = append(analysis.FunctionCalls, FunctionCall{
					Name: name,
					Line: call.Line(),
				})
			}
		case "attribute":
			callTargets[fn] = struct{}{}
			object, member, ok := splitAttribute(fn, source)
			if !ok {
				continue
			}
			analysis.MethodCalls = append(analysis.MethodCalls, MethodCall{
				Object: object,
				Method: member,
				Line:   call.Line(),
			})
		}
	}

	for _, attr := range root.FindAllByType("attribute") {
		if _, used := callTargets[attr]; used {
			continue
		}
		object, member, ok := splitAttribute(attr, source)
		if !ok || object == "self" {
			continue
		}
		analysis.AttributeAccesses = append(analysis.AttributeAccesses, AttributeAccess{
			Object:    object,
			Attribute: member,
			Line:      attr.Line(),
		})
	}

	// variable -> class bindings from x = Foo(...)
	for _, assign := range root.FindAllByType("assignment") {
		if len(assign.Children) < 2 {
			continue
		}
		left := assign.Children[0]
		right := assign.Children[len(assign.Children)-1]
		if left.Type != "identifier" || right.Type != "call" || len(right.Children) == 0 {
			continue
		}
		fn := right.Children[0]
		if fn.Type == "identifier" && isClassName(fn.Content(source)) {
			variable := left.Content(source)
			analysis.variableClasses[variable] = fn.Content(source)
			for i := range analysis.Instantiations {
				if analysis.Instantiations[i].Line == right.Line() &&
					analysis.Instantiations[i].ClassName == fn.Content(source) {
					analysis.Instantiations[i].Variable = variable
				}
			}
		}
	}

	return analysis, nil
}

func isClassName(name string) bool {
	if name == "" {
		return false
	}
	return unicode.IsUpper(rune(name[0]))
}

// splitAttribute splits "obj.member" into its two sides; nested
// attributes keep only the last two segments.
func splitAttribute(attr *Node, source []byte) (object, member string, ok bool) {
	text := attr.Content(source)
	i := strings.LastIndex(text, ".")
	if i <= 0 || i == len(text)-1 {
		return "", "", false
	}
	object = text[:i]
	if j := strings.LastIndex(object, "."); j >= 0 {
		object = object[j+1:]
	}
	member = text[i+1:]
	if strings.ContainsAny(member, "([") {
		return "", "", false
	}
	return object, member, true
}
