package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// ValidationStatus classifies one checked usage.
type ValidationStatus string

const (
	StatusValid     ValidationStatus = "VALID"
	StatusNotFound  ValidationStatus = "NOT_FOUND"
	StatusUncertain ValidationStatus = "UNCERTAIN"
)

// ValidationItem is the verdict for one usage found in the script.
type ValidationItem struct {
	Type       string           `json:"type"`
	Name       string           `json:"name"`
	Line       int              `json:"line"`
	Status     ValidationStatus `json:"status"`
	Confidence float64          `json:"confidence"`
	Message    string           `json:"message,omitempty"`
}

// HallucinationReport is the full verdict for one script.
type HallucinationReport struct {
	ScriptPath        string           `json:"script_path"`
	Items             []ValidationItem `json:"items"`
	TotalChecks       int              `json:"total_checks"`
	Valid             int              `json:"valid"`
	NotFound          int              `json:"not_found"`
	Uncertain         int              `json:"uncertain"`
	HallucinationRate float64          `json:"hallucination_rate"`
	LibrariesAnalyzed []string         `json:"libraries_analyzed"`
}

// Validator checks AI-generated Python scripts against the knowledge
// graph. Usages from libraries the graph has never ingested are
// reported uncertain, not hallucinated.
type Validator struct {
	reader Reader
	logger *slog.Logger
}

func NewValidator(reader Reader, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{reader: reader, logger: logger}
}

// CheckScript analyzes the script at path and validates every usage.
func (v *Validator) CheckScript(ctx context.Context, path string) (*HallucinationReport, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidInput, "read script "+path)
	}
	report, err := v.CheckSource(ctx, source)
	if err != nil {
		return nil, err
	}
	report.ScriptPath = path
	return report, nil
}

// CheckSource validates script source directly.
func (v *Validator) CheckSource(ctx context.Context, source []byte) (*HallucinationReport, error) {
	analysis, err := AnalyzeScript(ctx, source)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidInput, "analyze script")
	}

	graphModules, err := v.graphModuleRoots(ctx)
	if err != nil {
		return nil, err
	}

	report := &HallucinationReport{}
	covered := false
	for _, imp := range dedupe(analysis.Imports) {
		if _, ok := graphModules[imp]; ok {
			report.LibrariesAnalyzed = append(report.LibrariesAnalyzed, imp)
			covered = true
		}
	}

	add := func(item ValidationItem) {
		report.Items = append(report.Items, item)
		report.TotalChecks++
		switch item.Status {
		case StatusValid:
			report.Valid++
		case StatusNotFound:
			report.NotFound++
		case StatusUncertain:
			report.Uncertain++
		}
	}

	for _, inst := range analysis.Instantiations {
		add(v.checkInstantiation(ctx, inst, covered))
	}
	for _, call := range analysis.MethodCalls {
		add(v.checkMethodCall(ctx, call, analysis, covered))
	}
	for _, call := range analysis.FunctionCalls {
		add(v.checkFunctionCall(ctx, call, covered))
	}
	for _, access := range analysis.AttributeAccesses {
		add(v.checkAttributeAccess(ctx, access, analysis))
	}

	if report.TotalChecks > 0 {
		report.HallucinationRate = float64(report.NotFound) / float64(report.TotalChecks)
	}
	return report, nil
}

func (v *Validator) checkInstantiation(ctx context.Context, inst Instantiation, covered bool) ValidationItem {
	item := ValidationItem{Type: "instantiation", Name: inst.ClassName, Line: inst.Line}
	classes, err := v.reader.FindClass(ctx, inst.ClassName, "")
	if err != nil {
		item.Status, item.Confidence = StatusUncertain, 0.3
		item.Message = "graph lookup failed"
		return item
	}
	switch {
	case len(classes) > 0:
		item.Status, item.Confidence = StatusValid, 0.9
		item.Message = fmt.Sprintf("class found in %s", classes[0].Repository)
	case covered:
		item.Status, item.Confidence = StatusNotFound, 0.8
		item.Message = "class not found in any ingested repository"
	default:
		item.Status, item.Confidence = StatusUncertain, 0.5
		item.Message = "no ingested library covers this import"
	}
	return item
}

func (v *Validator) checkMethodCall(ctx context.Context, call MethodCall, analysis *ScriptAnalysis, covered bool) ValidationItem {
	item := ValidationItem{
		Type: "method_call",
		Name: call.Object + "." + call.Method,
		Line: call.Line,
	}
	class := analysis.ClassOf(call.Object)

	classInGraph := false
	if class != "" {
		classes, err := v.reader.FindClass(ctx, class, "")
		if err == nil && len(classes) > 0 {
			classInGraph = true
		}
	}

	methods, err := v.reader.FindMethod(ctx, call.Method, class, "")
	if err != nil {
		item.Status, item.Confidence = StatusUncertain, 0.3
		item.Message = "graph lookup failed"
		return item
	}

	switch {
	case len(methods) > 0 && class != "":
		item.Status, item.Confidence = StatusValid, 0.9
		item.Message = fmt.Sprintf("method of %s, params %s", methods[0].ClassName, methods[0].ParamsRaw)
	case len(methods) > 0:
		item.Status, item.Confidence = StatusValid, 0.7
		item.Message = fmt.Sprintf("method exists on %s", methods[0].ClassName)
	case classInGraph:
		item.Status, item.Confidence = StatusNotFound, 0.8
		item.Message = fmt.Sprintf("class %s has no such method", class)
	case covered:
		item.Status, item.Confidence = StatusUncertain, 0.4
		item.Message = "receiver class unknown"
	default:
		item.Status, item.Confidence = StatusUncertain, 0.5
		item.Message = "no ingested library covers this import"
	}
	return item
}

func (v *Validator) checkFunctionCall(ctx context.Context, call FunctionCall, covered bool) ValidationItem {
	item := ValidationItem{Type: "function_call", Name: call.Name, Line: call.Line}
	functions, err := v.reader.FindFunction(ctx, call.Name, "")
	if err != nil {
		item.Status, item.Confidence = StatusUncertain, 0.3
		item.Message = "graph lookup failed"
		return item
	}
	switch {
	case len(functions) > 0:
		item.Status, item.Confidence = StatusValid, 0.9
		item.Message = fmt.Sprintf("function found in %s", functions[0].Repository)
	case covered:
		item.Status, item.Confidence = StatusNotFound, 0.7
		item.Message = "function not found in any ingested repository"
	default:
		item.Status, item.Confidence = StatusUncertain, 0.5
		item.Message = "no ingested library covers this import"
	}
	return item
}

func (v *Validator) checkAttributeAccess(ctx context.Context, access AttributeAccess, analysis *ScriptAnalysis) ValidationItem {
	item := ValidationItem{
		Type: "attribute_access",
		Name: access.Object + "." + access.Attribute,
		Line: access.Line,
	}
	class := analysis.ClassOf(access.Object)
	if class == "" {
		item.Status, item.Confidence = StatusUncertain, 0.4
		item.Message = "receiver class unknown"
		return item
	}
	if classes, err := v.reader.FindClass(ctx, class, ""); err != nil || len(classes) == 0 {
		item.Status, item.Confidence = StatusUncertain, 0.4
		item.Message = fmt.Sprintf("class %s not in graph", class)
		return item
	}

	rows, err := v.reader.Query(ctx, `
		MATCH (c:Class {name: $class})-[:HAS_ATTRIBUTE]->(a:Attribute {name: $attr})
		RETURN a.name AS name LIMIT 1`,
		map[string]any{"class": class, "attr": access.Attribute})
	if err != nil {
		item.Status, item.Confidence = StatusUncertain, 0.3
		item.Message = "graph lookup failed"
		return item
	}
	if len(rows) > 0 {
		item.Status, item.Confidence = StatusValid, 0.8
		item.Message = fmt.Sprintf("attribute of %s", class)
	} else {
		item.Status, item.Confidence = StatusNotFound, 0.6
		item.Message = fmt.Sprintf("class %s has no such attribute", class)
	}
	return item
}

// graphModuleRoots collects the top-level module names the graph has
// ingested, keyed by the first dotted segment.
func (v *Validator) graphModuleRoots(ctx context.Context) (map[string]struct{}, error) {
	rows, err := v.reader.Query(ctx, `
		MATCH (f:File) RETURN DISTINCT f.module_name AS module`, nil)
	if err != nil {
		return nil, err
	}
	roots := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		module := asString(row["module"])
		if module == "" {
			continue
		}
		if i := strings.Index(module, "."); i > 0 {
			module = module[:i]
		}
		roots[module] = struct{}{}
	}
	return roots, nil
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
