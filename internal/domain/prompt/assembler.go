package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

// exampleSeparator joins prefix, rendered exemplars and suffix.
const exampleSeparator = "\n\n"

// DefaultPrefix instructs the model and fixes the output format. Placeholders: .Dialect, .TopK.
const DefaultPrefix = `You are an expert retail data analyst working with a {{.Dialect}} database for a clothing store.
Given an input question, first create a syntactically correct {{.Dialect}} query to run, then look at the results of the query and return the answer.

Follow these rules:
- Only use the tables and columns shown in the schema. Do not guess or invent column or table names.
- If the question asks "how many t-shirts", return the total based on the stock_quantity column.
- If the question mentions discounts, apply pct_discount from the discounts table.
- To calculate value, use price * stock_quantity, and adjust with discounts if needed.
- Use filters like brand, color, or size only if they are mentioned in the question.
- Unless the question specifies how many results to return, limit the query to at most {{.TopK}} rows using LIMIT.
- Never select all columns. Only query the columns needed to answer the question.

Use the following format:

Question: the question here
SQLQuery: the SQL query to run
SQLResult: the result of the SQL query
Answer: the final answer here`

// DefaultExampleTemplate renders one exemplar. Placeholders: .Question, .SQLQuery, .SQLResult, .Answer.
const DefaultExampleTemplate = "\nQuestion: {{.Question}}\nSQLQuery: {{.SQLQuery}}\nSQLResult: {{.SQLResult}}\nAnswer: {{.Answer}}"

// DefaultSuffix carries the schema and the question. Placeholders: .TableInfo, .Input.
const DefaultSuffix = "Only use the following tables:\n\n{{.TableInfo}}\n\nQuestion: {{.Input}}\nSQLQuery: "

// Vars are the values substituted into the prompt.
type Vars struct {
	Dialect   string
	TopK      int
	TableInfo string
	Input     string
	Examples  []fewshot.Exemplar
}

// Config holds the raw template text; empty fields use the defaults.
type Config struct {
	Prefix          string
	ExampleTemplate string
	Suffix          string
}

// Assembler renders the few-shot prompt. It is immutable and safe for concurrent use.
type Assembler struct {
	prefix  *template.Template
	example *template.Template
	suffix  *template.Template
}

// NewAssembler parses and dry-runs the templates so bad placeholders fail at startup.
func NewAssembler(cfg Config) (*Assembler, error) {
	prefix, err := parse("prefix", orDefault(cfg.Prefix, DefaultPrefix))
	if err != nil {
		return nil, err
	}
	example, err := parse("example", orDefault(cfg.ExampleTemplate, DefaultExampleTemplate))
	if err != nil {
		return nil, err
	}
	suffix, err := parse("suffix", orDefault(cfg.Suffix, DefaultSuffix))
	if err != nil {
		return nil, err
	}
	a := &Assembler{prefix: prefix, example: example, suffix: suffix}

	probe := Vars{
		Dialect:   "PostgreSQL",
		TopK:      5,
		TableInfo: "CREATE TABLE t (id integer)",
		Input:     "probe",
		Examples:  fewshot.DefaultExemplars()[:1],
	}
	if _, err := a.Build(probe); err != nil {
		return nil, fmt.Errorf("prompt template check: %w", err)
	}
	return a, nil
}

// Build renders prefix, each exemplar and suffix. Output depends only on vars.
func (a *Assembler) Build(vars Vars) (string, error) {
	parts := make([]string, 0, len(vars.Examples)+2)

	head, err := render(a.prefix, vars)
	if err != nil {
		return "", err
	}
	parts = append(parts, head)

	for _, ex := range vars.Examples {
		rendered, err := render(a.example, ex)
		if err != nil {
			return "", err
		}
		parts = append(parts, rendered)
	}

	tail, err := render(a.suffix, vars)
	if err != nil {
		return "", err
	}
	parts = append(parts, tail)

	return strings.Join(parts, exampleSeparator), nil
}

// AnswerPrompt extends a SQL generation prompt with the executed statement and its result,
// leaving the model to continue after "Answer: ".
func AnswerPrompt(sqlPrompt, sql, result string) string {
	var b strings.Builder
	b.Grow(len(sqlPrompt) + len(sql) + len(result) + 24)
	b.WriteString(sqlPrompt)
	b.WriteString(sql)
	b.WriteString("\nSQLResult: ")
	b.WriteString(result)
	b.WriteString("\nAnswer: ")
	return b.String()
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
