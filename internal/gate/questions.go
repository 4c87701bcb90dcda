package gate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLanguage is the language of the built-in bank.
const DefaultLanguage = "en"

//go:embed questions_en.json
var defaultQuestions []byte

// Question is one multiple-choice quiz entry. Files may name the answer either
// "correct" or "correctIndex".
type Question struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	Correct      *int     `json:"correct,omitempty"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
}

// Answer returns the index of the correct option, or -1 when the entry has none.
func (q Question) Answer() int {
	if q.Correct != nil {
		return *q.Correct
	}
	if q.CorrectIndex != nil {
		return *q.CorrectIndex
	}
	return -1
}

func (q Question) valid() bool {
	a := q.Answer()
	return q.Question != "" && len(q.Options) >= 2 && a >= 0 && a < len(q.Options)
}

// Bank is a set of questions for one language.
type Bank struct {
	Language  string     `json:"-"`
	Questions []Question `json:"questions"`
}

// ParseBank decodes a question file, dropping malformed entries.
func ParseBank(lang string, data []byte) (*Bank, error) {
	var raw Bank
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse questions: %w", err)
	}
	bank := &Bank{Language: lang, Questions: make([]Question, 0, len(raw.Questions))}
	for _, q := range raw.Questions {
		if q.valid() {
			bank.Questions = append(bank.Questions, q)
		}
	}
	return bank, nil
}

// LoadBank reads questions_<lang>.json from dir.
func LoadBank(dir, lang string) (*Bank, error) {
	path := filepath.Join(dir, fmt.Sprintf("questions_%s.json", lang))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question bank %s: %w", path, err)
	}
	return ParseBank(lang, data)
}

// DefaultBank returns the built-in English questions.
func DefaultBank() *Bank {
	bank, err := ParseBank(DefaultLanguage, defaultQuestions)
	if err != nil {
		panic("gate: invalid embedded question bank: " + err.Error())
	}
	return bank
}

// Len returns the number of usable questions.
func (b *Bank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Questions)
}
