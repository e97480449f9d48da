package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TestMetadata holds info parsed from Go source comments
type TestMetadata struct {
	Name        string `json:"name"`
	Purpose     string `json:"purpose,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Security    string `json:"security,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	Expected    string `json:"expected,omitempty"`
	TestCaseID  string `json:"test_case_id,omitempty"`
	Package     string `json:"package"`
	Category    string `json:"category"`
	Type        string `json:"type"` // UT, ST, E2E, etc.
}

// GoTestEvent represents a single event from 'go test -json'
type GoTestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// FinalTestResult is the merged result for a single test
type FinalTestResult struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Package     string       `json:"package"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// ReportSummary holds top-level stats
type ReportSummary struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Total       int               `json:"total"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Results     []FinalTestResult `json:"results"`
}

// categoryOrder fixes the section order in the Markdown report.
var categoryOrder = []string{
	"AuthN", "AuthZ", "OTP", "Enforcement", "Documents", "Storage",
	"Tokens", "Audit", "Auth API", "Document API", "API",
	"SYSTEM Tests", "E2E Tests", "Other", "Uncategorized",
}

func main() {
	inputPath := flag.String("input", "", "Path to go test -json output file")
	outputJSON := flag.String("out-json", "", "Path for output JSON report")
	outputMD := flag.String("out-md", "", "Path for output Markdown report")
	title := flag.String("title", "Test Report", "Report title")
	filterCats := flag.String("filter-categories", "", "Comma-separated list of categories to include")
	excludeCats := flag.String("exclude-categories", "", "Comma-separated list of categories to exclude")
	filterType := flag.String("filter-type", "", "Filter by test type (UT, ST, E2E, etc.)")
	excludeType := flag.String("exclude-type", "", "Exclude by test type (UT, ST, E2E, etc.)")
	flag.Parse()

	if *inputPath == "" || *outputJSON == "" || *outputMD == "" {
		fmt.Println("Usage: report_gen -input <json_file> -out-json <out_json> -out-md <out_md>")
		os.Exit(1)
	}

	metadataMap := scanMetadata()
	results := parseTestOutput(*inputPath, metadataMap)

	if *filterCats != "" {
		cats := splitList(*filterCats)
		results = filterResults(results, func(r FinalTestResult) bool {
			return cats[r.Annotations.Category]
		})
	}
	if *excludeCats != "" {
		cats := splitList(*excludeCats)
		results = filterResults(results, func(r FinalTestResult) bool {
			return !cats[r.Annotations.Category]
		})
	}
	if *filterType != "" {
		results = filterResults(results, func(r FinalTestResult) bool {
			return strings.EqualFold(r.Annotations.Type, *filterType)
		})
	}
	if *excludeType != "" {
		results = filterResults(results, func(r FinalTestResult) bool {
			return !strings.EqualFold(r.Annotations.Type, *excludeType)
		})
	}

	summary := generateSummary(results)
	saveJSON(summary, *outputJSON)
	saveMarkdown(summary, *outputMD, *title)

	// Non-zero exit keeps CI gates honest when tests failed.
	if summary.Failed > 0 {
		fmt.Printf("\n❌ Test Reporting: %d tests failed. Exiting with error.\n", summary.Failed)
		os.Exit(1)
	}
}

func splitList(raw string) map[string]bool {
	out := make(map[string]bool)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out[item] = true
		}
	}
	return out
}

func filterResults(results []FinalTestResult, keep func(FinalTestResult) bool) []FinalTestResult {
	filtered := results[:0]
	for _, r := range results {
		if keep(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func scanMetadata() map[string]TestMetadata {
	metadataMap := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if strings.Contains(path, "vendor/") || strings.Contains(path, ".git/") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}

		pkgPath := getPackagePath(path)

		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}

			meta := TestMetadata{
				Name:     fn.Name.Name,
				Package:  pkgPath,
				Type:     determineType(pkgPath),
				Category: determineCategory(pkgPath, fn.Name.Name),
			}

			if fn.Doc != nil {
				for _, line := range fn.Doc.List {
					text := strings.TrimSpace(strings.TrimPrefix(line.Text, "//"))
					for prefix, field := range map[string]*string{
						"TestPurpose:":  &meta.Purpose,
						"Scope:":        &meta.Scope,
						"Security:":     &meta.Security,
						"Permissions:":  &meta.Permissions,
						"Expected:":     &meta.Expected,
						"Test Case ID:": &meta.TestCaseID,
					} {
						if strings.HasPrefix(text, prefix) {
							*field = strings.TrimSpace(strings.TrimPrefix(text, prefix))
						}
					}
				}
			}
			key := fmt.Sprintf("%s.%s", pkgPath, fn.Name.Name)
			metadataMap[key] = meta
		}
		return nil
	})

	return metadataMap
}

func getPackagePath(filePath string) string {
	dir := filepath.Dir(filePath)
	dir = strings.TrimPrefix(dir, "./")
	if dir == "." {
		return "main"
	}
	return "github.com/securedocs/securedocs/" + dir
}

func determineType(pkgPath string) string {
	const prefix = "github.com/securedocs/securedocs/"
	relPath := strings.TrimPrefix(pkgPath, prefix)

	if strings.HasPrefix(relPath, "tests/") {
		parts := strings.Split(relPath, "/")
		if len(parts) > 1 {
			return strings.ToUpper(parts[1])
		}
	}
	return "UT"
}

func determineCategory(pkgPath, testName string) string {
	switch {
	case strings.Contains(pkgPath, "authz"):
		return "AuthZ"
	case strings.Contains(pkgPath, "identity"):
		return "AuthN"
	case strings.Contains(pkgPath, "otp"):
		return "OTP"
	case strings.Contains(pkgPath, "enforce"):
		return "Enforcement"
	case strings.Contains(pkgPath, "document"):
		return "Documents"
	case strings.Contains(pkgPath, "storage"):
		return "Storage"
	case strings.Contains(pkgPath, "token"):
		return "Tokens"
	case strings.Contains(pkgPath, "audit"):
		return "Audit"
	case strings.Contains(pkgPath, "transport/http"):
		if strings.Contains(testName, "Auth") {
			return "Auth API"
		}
		if strings.Contains(testName, "Documents") {
			return "Document API"
		}
		return "API"
	}
	if t := determineType(pkgPath); t != "UT" {
		return t + " Tests"
	}
	return "Other"
}

// unknownResult covers tests that produced events without any scanned
// annotation: subtests inherit the parent's metadata when available.
func unknownResult(event GoTestEvent, meta map[string]TestMetadata) *FinalTestResult {
	if strings.Contains(event.Test, "/") {
		parentName := strings.Split(event.Test, "/")[0]
		parentKey := fmt.Sprintf("%s.%s", event.Package, parentName)
		if parentMeta, found := meta[parentKey]; found {
			annotations := parentMeta
			annotations.Name = event.Test
			annotations.Purpose = parentMeta.Purpose + " (Subtest: " + event.Test + ")"
			return &FinalTestResult{
				Name:        event.Test,
				Package:     event.Package,
				Annotations: annotations,
			}
		}
	}
	return &FinalTestResult{
		Name:    event.Test,
		Package: event.Package,
		Annotations: TestMetadata{
			Name:     event.Test,
			Package:  event.Package,
			Type:     determineType(event.Package),
			Category: "Other",
		},
	}
}

func parseTestOutput(path string, meta map[string]TestMetadata) []FinalTestResult {
	// Start from every annotated test so ones that never ran still
	// appear in the report.
	testStates := make(map[string]*FinalTestResult)
	for key, m := range meta {
		testStates[key] = &FinalTestResult{
			Name:        m.Name,
			Package:     m.Package,
			Status:      "not run",
			Annotations: m,
		}
	}

	file, err := os.Open(path)
	if err != nil {
		fmt.Printf("Error opening test output: %v\n", err)
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if event.Test == "" {
			continue
		}

		key := fmt.Sprintf("%s.%s", event.Package, event.Test)
		res, ok := testStates[key]
		if !ok {
			res = unknownResult(event, meta)
			testStates[key] = res
		}

		switch event.Action {
		case "pass":
			res.Status = "pass"
			res.Elapsed = event.Elapsed
		case "fail":
			res.Status = "fail"
			res.Elapsed = event.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" {
				res.Failure += event.Output
			}
		}
	}

	var list []FinalTestResult
	for _, v := range testStates {
		list = append(list, *v)
	}
	return list
}

func generateSummary(results []FinalTestResult) ReportSummary {
	summary := ReportSummary{
		GeneratedAt: time.Now(),
		Results:     results,
	}

	for _, r := range results {
		summary.Total++
		switch r.Status {
		case "pass":
			summary.Passed++
		case "fail":
			summary.Failed++
		case "skip":
			summary.Skipped++
		}
	}

	return summary
}

func saveJSON(summary ReportSummary, path string) {
	data, _ := json.MarshalIndent(summary, "", "  ")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, data, 0644)
}

func statusIcon(status string) string {
	switch status {
	case "fail":
		return "❌"
	case "skip":
		return "⏭️"
	case "not run":
		return "⚪"
	default:
		return "✅"
	}
}

func saveMarkdown(summary ReportSummary, path string, title string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# SecureDocs %s\n\n", title))
	sb.WriteString(fmt.Sprintf("**Generated:** %s  \n", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST")))

	status := "✅ PASSED"
	if summary.Failed > 0 {
		status = "❌ FAILED"
	}
	sb.WriteString(fmt.Sprintf("**Status:** %s\n\n", status))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Total | Passed | Failed | Skipped | Pass Rate |\n")
	sb.WriteString("|-------|--------|--------|---------|-----------|\n")
	rate := 0.0
	if summary.Total > 0 {
		rate = float64(summary.Passed) / float64(summary.Total) * 100
	}
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %.1f%% |\n\n", summary.Total, summary.Passed, summary.Failed, summary.Skipped, rate))

	categories := make(map[string][]FinalTestResult)
	for _, r := range summary.Results {
		cat := r.Annotations.Category
		if cat == "" {
			cat = "Uncategorized"
		}
		categories[cat] = append(categories[cat], r)
	}

	sb.WriteString("## Test Results by Category\n\n")
	for _, cat := range categoryOrder {
		tests, ok := categories[cat]
		if !ok || len(tests) == 0 {
			continue
		}

		sb.WriteString(fmt.Sprintf("### %s\n\n", cat))
		sb.WriteString("| ID | Test Name | Status | Purpose | Security |\n")
		sb.WriteString("|----|-----------|--------|---------|----------|\n")
		for _, t := range tests {
			security := t.Annotations.Security
			if security != "" {
				security = "**" + security + "**"
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, statusIcon(t.Status), t.Annotations.Purpose, security))
		}
		sb.WriteString("\n")
	}

	if summary.Failed > 0 {
		sb.WriteString("## Failure Details\n\n")
		for _, t := range summary.Results {
			if t.Status == "fail" {
				sb.WriteString(fmt.Sprintf("### %s (%s)\n", t.Name, t.Package))
				sb.WriteString("```\n")
				sb.WriteString(t.Failure)
				sb.WriteString("\n```\n\n")
			}
		}
	}

	sb.WriteString("---\n*Report generated by SecureDocs Test Infrastructure*\n")

	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte(sb.String()), 0644)
}
