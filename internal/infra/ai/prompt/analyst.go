package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/chat"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
)

// previewRows is how many rows of each dataset are shown to the model.
const previewRows = 5

const analysisSystem = `You are a senior data analyst writing Python with pandas and numpy.
You must produce one valid JSON object only (no markdown, no commentary) with this schema:
{"code": "<python source>", "description": "<one sentence on what the code does>"}

Requirements for the code:
- Define exactly one function: def analyze_data(dfs: dict[str, pd.DataFrame]) -> pd.DataFrame
- dfs maps dataset names to DataFrames. Use only the columns listed below.
- Return a single pandas DataFrame holding the answer. Do not print, plot, or read files.
- Only pandas, numpy and the Python standard library are available; there is no network access.`

const chartsSystem = `You are a data visualization expert writing Python with plotly.
You must produce one valid JSON object only (no markdown, no commentary) with this schema:
{"code": "<python source>", "description": "<one sentence on what the charts show>"}

Requirements for the code:
- Define exactly one function: def create_charts(df: pd.DataFrame) -> tuple[go.Figure, go.Figure]
- Return two complementary plotly figures (fig1, fig2) that answer the question.
- Use only the columns listed below. Do not call fig.show() or write files.
- Only pandas, numpy, plotly and the Python standard library are available.`

const insightSystem = `You are a business analyst explaining results to an executive.
You must produce one valid JSON object only (no markdown, no commentary) with this schema:
{"bottom_line": "<string>", "additional_insights": "<markdown string>", "follow_up_questions": ["<string>", "<string>", "<string>"]}

Requirements:
- bottom_line answers the question directly in one or two sentences.
- additional_insights lists notable patterns, caveats, and numbers from the data.
- follow_up_questions has at most three short questions worth asking next.`

const dictionarySystem = `You are a data steward documenting datasets.
You must produce one valid JSON object only (no markdown, no commentary) with this schema:
{"columns": ["<column>", ...], "descriptions": ["<description>", ...]}

Requirements:
- Describe every listed column exactly once, in the given order.
- descriptions[i] describes columns[i] and is at least 10 characters long.`

const enhanceSystem = `You rewrite a user's latest question so it can be answered without the chat history.
You must produce one valid JSON object only (no markdown, no commentary) with this schema:
{"enhanced_user_message": "<string>"}
Keep the user's intent. Resolve pronouns and references using the conversation and the listed datasets.`

// Analysis builds the analysis prompt. last is the previous failure, nil on
// the first attempt.
func Analysis(req analysis.AnalysisRequest, last *analysis.CodeExecutionError) analysis.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	for _, d := range req.Datasets {
		writeDataset(&b, d, findDictionary(req.Dictionaries, d.Name()))
	}
	writeLastError(&b, last)
	return analysis.Prompt{System: analysisSystem, User: b.String()}
}

// Charts builds the chart prompt for a single dataset.
func Charts(req analysis.ChartRequest, last *analysis.CodeExecutionError) analysis.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	writeDataset(&b, req.Dataset, nil)
	writeLastError(&b, last)
	return analysis.Prompt{System: chartsSystem, User: b.String()}
}

// Insight builds the business insight prompt.
func Insight(req analysis.BusinessInsightRequest, last *analysis.CodeExecutionError) analysis.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	writeDataset(&b, req.Dataset, req.Dictionary)
	if last != nil {
		fmt.Fprintf(&b, "\nYour previous answer was rejected: %s\nReturn a corrected JSON object.\n", last.ExceptionMessage)
	}
	return analysis.Prompt{System: insightSystem, User: b.String()}
}

// Dictionary builds the prompt describing one batch of columns.
func Dictionary(d *dataset.Dataset, columns []string, violations dictionary.Violations) analysis.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s\nColumns to describe: %s\n\nSample rows:\n", d.Name(), strings.Join(columns, ", "))
	for _, r := range d.Head(previewRows).ToRecords() {
		row := make(map[string]any, len(columns))
		for _, c := range columns {
			row[c] = r[c]
		}
		js, _ := json.Marshal(row)
		b.Write(js)
		b.WriteByte('\n')
	}
	if !violations.OK() {
		fmt.Fprintf(&b, "\nYour previous answer was rejected: %s\n", violations.Error())
	}
	return analysis.Prompt{System: dictionarySystem, User: b.String()}
}

// Enhance builds the question rewrite prompt from the transport history.
func Enhance(history []chat.TransportMessage, question string, datasets []*dataset.Dataset) analysis.Prompt {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nDatasets: ")
	names := make([]string, 0, len(datasets))
	for _, d := range datasets {
		names = append(names, fmt.Sprintf("%s(%s)", d.Name(), strings.Join(d.Columns(), ", ")))
	}
	b.WriteString(strings.Join(names, "; "))
	fmt.Fprintf(&b, "\n\nLatest question: %s\n", question)
	return analysis.Prompt{System: enhanceSystem, User: b.String()}
}

func findDictionary(dicts []*dictionary.DataDictionary, name string) *dictionary.DataDictionary {
	for _, d := range dicts {
		if d != nil && d.Name == name {
			return d
		}
	}
	return nil
}

func writeDataset(b *strings.Builder, d *dataset.Dataset, dict *dictionary.DataDictionary) {
	if d == nil {
		return
	}
	fmt.Fprintf(b, "Dataset %q (%d rows)\nColumns:\n", d.Name(), d.Len())
	inferred := dictionary.FromDataset(d, "")
	for i, c := range d.Columns() {
		dtype := inferred.Columns[i].DataType
		desc := ""
		if dict != nil {
			for _, dc := range dict.Columns {
				if dc.Column == c {
					desc = dc.Description
					if dc.DataType != "" {
						dtype = dc.DataType
					}
				}
			}
		}
		if desc != "" {
			fmt.Fprintf(b, "- %s (%s): %s\n", c, dtype, desc)
		} else {
			fmt.Fprintf(b, "- %s (%s)\n", c, dtype)
		}
	}
	head, err := json.Marshal(d.Head(previewRows))
	if err == nil {
		fmt.Fprintf(b, "Sample: %s\n\n", head)
	}
}

func writeLastError(b *strings.Builder, last *analysis.CodeExecutionError) {
	if last == nil {
		return
	}
	b.WriteString("\nThe previous attempt failed. Fix the problem and return new code.\n")
	if last.Code != "" {
		fmt.Fprintf(b, "Previous code:\n%s\n", last.Code)
	}
	fmt.Fprintf(b, "Error: %s\n", last.ExceptionMessage)
	if last.Traceback != "" {
		fmt.Fprintf(b, "Traceback:\n%s\n", tail(last.Traceback, 2000))
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
