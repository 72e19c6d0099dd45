package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DatasetPrompt is one adversarial probe in a dataset file.
type DatasetPrompt struct {
	ID                string `yaml:"id"`
	Prompt            string `yaml:"prompt"`
	Category          string `yaml:"category"`
	ExpectedBehaviour string `yaml:"expected_behaviour"`
}

// Dataset is a YAML adversarial prompt collection.
type Dataset struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Prompts     []DatasetPrompt `yaml:"prompts"`
}

// ReferenceAnswer maps a use case to its expected answer for functional checks.
type ReferenceAnswer struct {
	UseCase string `yaml:"useCase"`
	Answer  string `yaml:"answer"`
}

// AnswerSet is a YAML reference-answer collection.
type AnswerSet struct {
	Name    string            `yaml:"name"`
	Answers []ReferenceAnswer `yaml:"answers"`
}

// LoadDataset reads and parses a single adversarial dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var d Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = trimExt(filepath.Base(path))
	}
	return &d, nil
}

// LoadAnswerSets reads every reference-answer YAML file in dir. Unreadable or
// invalid files are skipped; a missing directory yields an empty result.
func LoadAnswerSets(dir string) []ReferenceAnswer {
	var answers []ReferenceAnswer
	entries, err := os.ReadDir(dir)
	if err != nil {
		return answers
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Clean(filepath.Join(dir, e.Name())))
		if err != nil {
			continue
		}
		var set AnswerSet
		if err := yaml.Unmarshal(data, &set); err != nil {
			continue
		}
		answers = append(answers, set.Answers...)
	}
	return answers
}

// AttachExpectedAnswers overwrites each functional scenario's expected
// behaviour with the best-matching reference answer: exact use-case match
// first, then cosine similarity above the threshold. Scenarios with no good
// match keep their generated expectation.
func AttachExpectedAnswers(specs []Spec, answers []ReferenceAnswer) {
	const similarityThreshold = 0.5

	for i := range specs {
		var matched *ReferenceAnswer
		for j := range answers {
			if answers[j].UseCase == specs[i].UseCase {
				matched = &answers[j]
				break
			}
		}

		if matched == nil {
			best := 0.0
			for j := range answers {
				if answers[j].UseCase == "" {
					continue
				}
				sim := CosineSimilarity(specs[i].UseCase, answers[j].UseCase)
				if sim > best {
					best = sim
					matched = &answers[j]
				}
			}
			if best < similarityThreshold {
				matched = nil
			}
		}

		if matched != nil && matched.Answer != "" {
			specs[i].ExpectedBehaviour = matched.Answer
		}
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
