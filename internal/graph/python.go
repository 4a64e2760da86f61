package graph

import (
	"context"
	"strings"
)

// Param is one parameter of a method or function.
type Param struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default string `json:"default,omitempty"`
}

// MethodDef describes a method discovered inside a class.
type MethodDef struct {
	Name          string  `json:"name"`
	Params        []Param `json:"params"`
	ParamsRaw     string  `json:"params_raw"`
	Returns       string  `json:"returns,omitempty"`
	Docstring     string  `json:"docstring,omitempty"`
	IsAsync       bool    `json:"is_async"`
	IsStatic      bool    `json:"is_static"`
	IsClassMethod bool    `json:"is_classmethod"`
	Line          int     `json:"line"`
}

// AttributeDef describes a class attribute.
type AttributeDef struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Line int    `json:"line"`
}

// ClassDef describes a class and its members.
type ClassDef struct {
	Name       string         `json:"name"`
	FullName   string         `json:"full_name"`
	Docstring  string         `json:"docstring,omitempty"`
	Line       int            `json:"line"`
	Methods    []MethodDef    `json:"methods"`
	Attributes []AttributeDef `json:"attributes"`
}

// FunctionDef describes a module-level function.
type FunctionDef struct {
	Name      string  `json:"name"`
	Params    []Param `json:"params"`
	ParamsRaw string  `json:"params_raw"`
	Returns   string  `json:"returns,omitempty"`
	Docstring string  `json:"docstring,omitempty"`
	IsAsync   bool    `json:"is_async"`
	Line      int     `json:"line"`
}

// FileAnalysis is the static analysis result for one source file.
type FileAnalysis struct {
	Path      string        `json:"path"`
	Module    string        `json:"module"`
	Classes   []ClassDef    `json:"classes"`
	Functions []FunctionDef `json:"functions"`
	Imports   []string      `json:"imports"`
	LineCount int           `json:"line_count"`
}

// AnalyzePythonFile statically analyzes one Python file. relPath is
// the repository-relative path used to derive the module name.
func AnalyzePythonFile(ctx context.Context, relPath string, source []byte) (*FileAnalysis, error) {
	root, err := parsePython(ctx, source)
	if err != nil {
		return nil, err
	}

	analysis := &FileAnalysis{
		Path:      relPath,
		Module:    moduleName(relPath),
		LineCount: strings.Count(string(source), "\n") + 1,
	}

	for _, child := range root.Children {
		node, decorators := unwrapDecorated(child, source)
		switch node.Type {
		case "class_definition":
			analysis.Classes = append(analysis.Classes, parseClass(node, analysis.Module, source))
		case "function_definition":
			analysis.Functions = append(analysis.Functions, parseFunction(node, source))
		case "import_statement", "import_from_statement":
			analysis.Imports = append(analysis.Imports, importedModules(node, source)...)
		}
		_ = decorators
	}
	return analysis, nil
}

func moduleName(relPath string) string {
	name := strings.TrimSuffix(relPath, ".py")
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "/", ".")
	return strings.TrimSuffix(name, ".__init__")
}

// unwrapDecorated peels a decorated_definition, returning the inner
// definition and decorator names.
func unwrapDecorated(node *Node, source []byte) (*Node, []string) {
	if node.Type != "decorated_definition" {
		return node, nil
	}
	var decorators []string
	inner := node
	for _, child := range node.Children {
		switch child.Type {
		case "decorator":
			decorators = append(decorators, strings.TrimPrefix(child.Content(source), "@"))
		case "class_definition", "function_definition":
			inner = child
		}
	}
	return inner, decorators
}

func parseClass(node *Node, module string, source []byte) ClassDef {
	cls := ClassDef{Line: node.Line()}
	if name := node.FindChildByType("identifier"); name != nil {
		cls.Name = name.Content(source)
	}
	cls.FullName = module + "." + cls.Name

	body := node.FindChildByType("block")
	if body == nil {
		return cls
	}
	cls.Docstring = docstring(body, source)

	for _, child := range body.Children {
		inner, decorators := unwrapDecorated(child, source)
		switch inner.Type {
		case "function_definition":
			m := parseMethod(inner, decorators, source)
			cls.Methods = append(cls.Methods, m)
			if m.Name == "__init__" {
				cls.Attributes = append(cls.Attributes, selfAttributes(inner, source)...)
			}
		case "expression_statement":
			if assign := inner.FindChildByType("assignment"); assign != nil {
				if attr, ok := classAttribute(assign, source); ok {
					cls.Attributes = append(cls.Attributes, attr)
				}
			}
		}
	}
	return cls
}

func parseMethod(node *Node, decorators []string, source []byte) MethodDef {
	m := MethodDef{
		Line:    node.Line(),
		IsAsync: node.FindChildByType("async") != nil,
	}
	if name := node.FindChildByType("identifier"); name != nil {
		m.Name = name.Content(source)
	}
	for _, d := range decorators {
		switch d {
		case "staticmethod":
			m.IsStatic = true
		case "classmethod":
			m.IsClassMethod = true
		}
	}
	if params := node.FindChildByType("parameters"); params != nil {
		m.Params = parseParams(params, source)
		m.ParamsRaw = params.Content(source)
	}
	if ret := node.FindChildByType("type"); ret != nil {
		m.Returns = ret.Content(source)
	}
	if body := node.FindChildByType("block"); body != nil {
		m.Docstring = docstring(body, source)
	}
	return m
}

func parseFunction(node *Node, source []byte) FunctionDef {
	f := FunctionDef{
		Line:    node.Line(),
		IsAsync: node.FindChildByType("async") != nil,
	}
	if name := node.FindChildByType("identifier"); name != nil {
		f.Name = name.Content(source)
	}
	if params := node.FindChildByType("parameters"); params != nil {
		f.Params = parseParams(params, source)
		f.ParamsRaw = params.Content(source)
	}
	if ret := node.FindChildByType("type"); ret != nil {
		f.Returns = ret.Content(source)
	}
	if body := node.FindChildByType("block"); body != nil {
		f.Docstring = docstring(body, source)
	}
	return f
}

func parseParams(node *Node, source []byte) []Param {
	var out []Param
	for _, child := range node.Children {
		switch child.Type {
		case "identifier":
			out = append(out, Param{Name: child.Content(source)})
		case "typed_parameter":
			p := Param{}
			if name := child.FindChildByType("identifier"); name != nil {
				p.Name = name.Content(source)
			}
			if typ := child.FindChildByType("type"); typ != nil {
				p.Type = typ.Content(source)
			}
			out = append(out, p)
		case "default_parameter", "typed_default_parameter":
			p := Param{}
			if name := child.FindChildByType("identifier"); name != nil {
				p.Name = name.Content(source)
			}
			if typ := child.FindChildByType("type"); typ != nil {
				p.Type = typ.Content(source)
			}
			if len(child.Children) > 0 {
				p.Default = child.Children[len(child.Children)-1].Content(source)
			}
			out = append(out, p)
		case "list_splat_pattern":
			out = append(out, Param{Name: child.Content(source)})
		case "dictionary_splat_pattern":
			out = append(out, Param{Name: child.Content(source)})
		}
	}
	return out
}

// docstring picks the leading string expression of a block, if any.
func docstring(body *Node, source []byte) string {
	if len(body.Children) == 0 {
		return ""
	}
	first := body.Children[0]
	if first.Type != "expression_statement" {
		return ""
	}
	str := first.FindChildByType("string")
	if str == nil {
		return ""
	}
	return trimQuotes(str.Content(source))
}

func trimQuotes(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// selfAttributes collects self.X assignments inside a method body.
func selfAttributes(method *Node, source []byte) []AttributeDef {
	var out []AttributeDef
	seen := make(map[string]struct{})
	method.Walk(func(n *Node) bool {
		if n.Type != "assignment" {
			return true
		}
		if len(n.Children) == 0 {
			return true
		}
		left := n.Children[0]
		if left.Type != "attribute" {
			return true
		}
		parts := strings.SplitN(left.Content(source), ".", 2)
		if len(parts) != 2 || parts[0] != "self" || strings.Contains(parts[1], ".") {
			return true
		}
		name := parts[1]
		if _, ok := seen[name]; ok {
			return true
		}
		seen[name] = struct{}{}
		attr := AttributeDef{Name: name, Line: n.Line()}
		if typ := n.FindChildByType("type"); typ != nil {
			attr.Type = typ.Content(source)
		}
		out = append(out, attr)
		return true
	})
	return out
}

func classAttribute(assign *Node, source []byte) (AttributeDef, bool) {
	if len(assign.Children) == 0 {
		return AttributeDef{}, false
	}
	left := assign.Children[0]
	if left.Type != "identifier" {
		return AttributeDef{}, false
	}
	attr := AttributeDef{Name: left.Content(source), Line: assign.Line()}
	if typ := assign.FindChildByType("type"); typ != nil {
		attr.Type = typ.Content(source)
	}
	return attr, true
}

// importedModules extracts the top-level module names of an import
// statement.
func importedModules(node *Node, source []byte) []string {
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		// keep the root package, "a.b.c" imports package "a"
		if i := strings.Index(name, "."); i > 0 {
			name = name[:i]
		}
		out = append(out, name)
	}

	switch node.Type {
	case "import_statement":
		for _, child := range node.Children {
			switch child.Type {
			case "dotted_name":
				add(child.Content(source))
			case "aliased_import":
				if dotted := child.FindChildByType("dotted_name"); dotted != nil {
					add(dotted.Content(source))
				}
			}
		}
	case "import_from_statement":
		// only the source module matters for validation
		if dotted := node.FindChildByType("dotted_name"); dotted != nil {
			add(dotted.Content(source))
		} else if rel := node.FindChildByType("relative_import"); rel != nil {
			add(strings.TrimLeft(rel.Content(source), "."))
		}
	}
	return out
}
