package fewshot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrIndexNotReady is returned by Retrieve before Init has succeeded.
var ErrIndexNotReady = errors.New("fewshot index not initialized")

// Exemplar is a worked (question, SQL, result, answer) example shown to the model.
type Exemplar struct {
	Question  string `json:"question" yaml:"question"`
	SQLQuery  string `json:"sqlQuery" yaml:"sqlQuery"`
	SQLResult string `json:"sqlResult" yaml:"sqlResult"`
	Answer    string `json:"answer" yaml:"answer"`
}

// EmbeddingText is the text embedded for similarity search: all four fields joined by a space.
func (e Exemplar) EmbeddingText() string {
	return strings.Join([]string{e.Question, e.SQLQuery, e.SQLResult, e.Answer}, " ")
}

// Entry pairs an exemplar with its embedding and original position.
type Entry struct {
	Position  int
	Exemplar  Exemplar
	Embedding []float32
}

// Snapshot is the persisted unit of the index.
type Snapshot struct {
	EmbeddingModel string
	Dimensions     int
	BuiltAt        time.Time
	Entries        []Entry
}

// Matches reports whether the snapshot was built from the same exemplar set and model.
func (s Snapshot) Matches(exemplars []Exemplar, model string) bool {
	if len(s.Entries) != len(exemplars) || s.EmbeddingModel != model {
		return false
	}
	for i, entry := range s.Entries {
		if entry.Position != i || entry.Exemplar != exemplars[i] {
			return false
		}
		if len(entry.Embedding) != s.Dimensions {
			return false
		}
	}
	return true
}

// Match is a ranked retrieval result.
type Match struct {
	Exemplar Exemplar
	Position int
	Score    float64
}

// LoadExemplars reads an exemplar set from a YAML file (a list of exemplar objects).
func LoadExemplars(path string) ([]Exemplar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exemplars file: %w", err)
	}
	var out []Exemplar
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse exemplars file: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("exemplars file is empty")
	}
	for i, ex := range out {
		if strings.TrimSpace(ex.Question) == "" || strings.TrimSpace(ex.SQLQuery) == "" {
			return nil, fmt.Errorf("exemplar %d: question and sqlQuery are required", i)
		}
	}
	return out, nil
}

// DefaultExemplars returns the built-in retail inventory examples.
func DefaultExemplars() []Exemplar {
	return []Exemplar{
		{
			Question:  "How many t-shirts do we have left for Nike in XS size and white color?",
			SQLQuery:  "SELECT sum(stock_quantity) FROM t_shirts WHERE brand = 'Nike' AND color = 'White' AND size = 'XS'",
			SQLResult: "[(91,)]",
			Answer:    "91",
		},
		{
			Question:  "How much is the total price of the inventory for all S-size t-shirts?",
			SQLQuery:  "SELECT SUM(price*stock_quantity) FROM t_shirts WHERE size = 'S'",
			SQLResult: "[(22292,)]",
			Answer:    "22292",
		},
		{
			Question: "If we have to sell all the Levi’s T-shirts today with discounts applied. How much revenue our store will generate (post discounts)?",
			SQLQuery: "SELECT sum(a.total_amount * ((100-COALESCE(discounts.pct_discount,0))/100)) as total_revenue FROM\n" +
				"(select sum(price*stock_quantity) as total_amount, t_shirt_id from t_shirts where brand = 'Levi'\n" +
				"group by t_shirt_id) a LEFT JOIN discounts ON a.t_shirt_id = discounts.t_shirt_id",
			SQLResult: "[(Decimal('16725.4'),)]",
			Answer:    "16725.4",
		},
		{
			Question:  "If we have to sell all the Levi’s T-shirts today. How much revenue our store will generate without discount?",
			SQLQuery:  "SELECT SUM(price * stock_quantity) FROM t_shirts WHERE brand = 'Levi'",
			SQLResult: "[(17462,)]",
			Answer:    "17462",
		},
		{
			Question:  "How many white color Levi's shirt I have?",
			SQLQuery:  "SELECT sum(stock_quantity) FROM t_shirts WHERE brand = 'Levi' AND color = 'White'",
			SQLResult: "[(290,)]",
			Answer:    "290",
		},
		{
			Question: "How much sales amount will be generated if we sell all large size t-shirts today in Nike brand after discounts?",
			// String literal quotes so the statement runs on PostgreSQL as well as MySQL.
			SQLQuery: "SELECT sum(a.total_amount * ((100-COALESCE(discounts.pct_discount,0))/100)) as total_revenue FROM\n" +
				"(select sum(price*stock_quantity) as total_amount, t_shirt_id from t_shirts where brand = 'Nike' and size = 'L'\n" +
				"group by t_shirt_id) a LEFT JOIN discounts ON a.t_shirt_id = discounts.t_shirt_id",
			SQLResult: "[(Decimal('290'),)]",
			Answer:    "290",
		},
	}
}
