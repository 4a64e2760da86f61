package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves a tiny graph: repository "widgets" with class
// Widget, method render, function make_widget, attribute size.
type fakeReader struct {
	queryErr error
}

func (f *fakeReader) ListRepositories(context.Context) ([]RepositoryRecord, error) {
	return []RepositoryRecord{{Name: "widgets", CloneURL: "https://example.com/widgets.git"}}, nil
}

func (f *fakeReader) GetRepositoryInfo(_ context.Context, name string) (*RepositoryInfo, error) {
	return &RepositoryInfo{Name: name, FileCount: 1, ClassCount: 1, MethodCount: 1}, nil
}

func (f *fakeReader) FindClass(_ context.Context, name, _ string) ([]ClassRecord, error) {
	if name == "Widget" {
		return []ClassRecord{{Repository: "widgets", Name: "Widget", FullName: "widgets.core.Widget"}}, nil
	}
	return nil, nil
}

func (f *fakeReader) FindMethod(_ context.Context, name, class, _ string) ([]MethodRecord, error) {
	if name == "render" && (class == "" || class == "Widget") {
		return []MethodRecord{{Repository: "widgets", ClassName: "Widget", Name: "render", ParamsRaw: "(self, size)"}}, nil
	}
	return nil, nil
}

func (f *fakeReader) FindFunction(_ context.Context, name, _ string) ([]FunctionRecord, error) {
	if name == "make_widget" {
		return []FunctionRecord{{Repository: "widgets", Name: "make_widget"}}, nil
	}
	return nil, nil
}

func (f *fakeReader) Query(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if strings.Contains(cypher, "DISTINCT f.module_name") {
		return []map[string]any{{"module": "widgets.core"}}, nil
	}
	if strings.Contains(cypher, "HAS_ATTRIBUTE") {
		if params["class"] == "Widget" && params["attr"] == "size" {
			return []map[string]any{{"name": "size"}}, nil
		}
		return nil, nil
	}
	return []map[string]any{{"ok": true}}, nil
}

func TestCheckSourceValidUsages(t *testing.T) {
	v := NewValidator(&fakeReader{}, nil)
	script := `import widgets

w = Widget("demo")
w.render(3)
make_widget("x")
total = w.size
`
	report, err := v.CheckSource(context.Background(), []byte(script))
	require.NoError(t, err)

	assert.Equal(t, []string{"widgets"}, report.LibrariesAnalyzed)
	assert.Equal(t, report.TotalChecks, len(report.Items))
	assert.Equal(t, report.TotalChecks, report.Valid)
	assert.Zero(t, report.NotFound)
	assert.Zero(t, report.HallucinationRate)
}

func TestCheckSourceDetectsHallucinations(t *testing.T) {
	v := NewValidator(&fakeReader{}, nil)
	script := `import widgets

w = Widget("demo")
w.render_fancy()
g = Gadget()
missing_helper()
`
	report, err := v.CheckSource(context.Background(), []byte(script))
	require.NoError(t, err)

	byName := make(map[string]ValidationItem)
	for _, item := range report.Items {
		byName[item.Name] = item
	}

	assert.Equal(t, StatusValid, byName["Widget"].Status)
	assert.Equal(t, StatusNotFound, byName["w.render_fancy"].Status)
	assert.Equal(t, StatusNotFound, byName["Gadget"].Status)
	assert.Equal(t, StatusNotFound, byName["missing_helper"].Status)
	assert.Greater(t, report.HallucinationRate, 0.5)
}

func TestCheckSourceUncoveredLibraryIsUncertain(t *testing.T) {
	v := NewValidator(&fakeReader{}, nil)
	script := `import numpy

arr = Matrix()
arr.transpose()
`
	report, err := v.CheckSource(context.Background(), []byte(script))
	require.NoError(t, err)

	assert.Empty(t, report.LibrariesAnalyzed)
	assert.Zero(t, report.NotFound)
	assert.Equal(t, report.TotalChecks, report.Uncertain)
}

func TestCheckScriptMissingFile(t *testing.T) {
	v := NewValidator(&fakeReader{}, nil)
	_, err := v.CheckScript(context.Background(), "/nonexistent/script.py")
	require.Error(t, err)
}

func TestExecuteCommandRepos(t *testing.T) {
	got, err := ExecuteCommand(context.Background(), &fakeReader{}, "repos")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	repos := got.Data.([]RepositoryRecord)
	assert.Equal(t, "widgets", repos[0].Name)
}

func TestExecuteCommandExplore(t *testing.T) {
	got, err := ExecuteCommand(context.Background(), &fakeReader{}, "explore widgets")
	require.NoError(t, err)
	info := got.Data.(*RepositoryInfo)
	assert.Equal(t, "widgets", info.Name)

	_, err = ExecuteCommand(context.Background(), &fakeReader{}, "explore")
	require.Error(t, err)
}

func TestExecuteCommandClassAndMethod(t *testing.T) {
	got, err := ExecuteCommand(context.Background(), &fakeReader{}, "class Widget")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)

	got, err = ExecuteCommand(context.Background(), &fakeReader{}, "method render Widget")
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)
	methods := got.Data.([]MethodRecord)
	assert.Equal(t, "(self, size)", methods[0].ParamsRaw)

	got, err = ExecuteCommand(context.Background(), &fakeReader{}, "method nothing_here")
	require.NoError(t, err)
	assert.Zero(t, got.Count)
}

func TestExecuteCommandFunction(t *testing.T) {
	got, err := ExecuteCommand(context.Background(), &fakeReader{}, "function make_widget")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestExecuteCommandRawQuery(t *testing.T) {
	got, err := ExecuteCommand(context.Background(), &fakeReader{}, "query MATCH (n) RETURN n LIMIT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestExecuteCommandRejectsUnknown(t *testing.T) {
	_, err := ExecuteCommand(context.Background(), &fakeReader{}, "destroy everything")
	require.Error(t, err)

	_, err = ExecuteCommand(context.Background(), &fakeReader{}, "")
	require.Error(t, err)
}
