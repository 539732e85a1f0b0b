package prompt

import "fmt"

// Tool names recognized by ForTool. They mirror the developer-productivity
// actions exposed by the desktop client.
const (
	ToolAnalyze  = "analyze"
	ToolExplain  = "explain"
	ToolRefactor = "refactor"
	ToolDocs     = "docs"
	ToolTests    = "tests"
	ToolSecurity = "security"
)

// ForTool wraps input in the instruction template for the named tool.
// Unknown tool names fall through to a generic task template so a typo in
// the client degrades gracefully instead of failing the request.
func ForTool(tool, input string) string {
	switch tool {
	case ToolAnalyze:
		return fmt.Sprintf("Analyze the following code and provide insights:\n\n%s", input)
	case ToolExplain:
		return fmt.Sprintf("Explain the following code in simple terms:\n\n%s", input)
	case ToolRefactor:
		return fmt.Sprintf("Refactor the following code to improve quality and readability:\n\n%s", input)
	case ToolDocs:
		return fmt.Sprintf("Generate documentation for the following code:\n\n%s", input)
	case ToolTests:
		return fmt.Sprintf("Generate unit tests for the following code:\n\n%s", input)
	case ToolSecurity:
		return fmt.Sprintf("Review the following code for security issues:\n\n%s", input)
	default:
		return fmt.Sprintf("Perform task %q on the following code:\n\n%s", tool, input)
	}
}
