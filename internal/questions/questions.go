// Package questions supplies the immutable study datasets: pre-recorded
// detection turns and elicitation questions. Collections are loaded once at
// startup from embedded YAML and handed out as defensive copies.
package questions

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/detection_turns.yaml data/elicitation_questions.yaml
var dataFS embed.FS

// ModelType is the concealed ground-truth label of a detection turn.
type ModelType string

const (
	ModelTypeNormal      ModelType = "normal"
	ModelTypeSandbagging ModelType = "sandbagging"
)

// EpochResponse is one pre-recorded answer sampled from the labeled model.
type EpochResponse struct {
	ID            string `yaml:"id" json:"responseId"`
	Answer        string `yaml:"answer" json:"answer"`
	Justification string `yaml:"justification" json:"justification"`
}

// TurnQuestion is a single question inside a detection turn, bundled with
// the model's repeated answers.
type TurnQuestion struct {
	ID            string            `yaml:"id" json:"questionId"`
	Type          string            `yaml:"type" json:"questionType"`
	Text          string            `yaml:"text" json:"questionText"`
	Options       map[string]string `yaml:"options" json:"options,omitempty"`
	CorrectAnswer string            `yaml:"correct_answer" json:"-"`
	Responses     []EpochResponse   `yaml:"responses" json:"responses"`
}

// Turn is one detection batch: a handful of questions answered by a model
// whose type the participant must judge. TurnNumber is assigned by the
// sequencer, not the dataset.
type Turn struct {
	ID         string         `yaml:"id" json:"turnId"`
	ModelType  ModelType      `yaml:"model_type" json:"-"`
	TurnNumber int            `yaml:"-" json:"turnNumber"`
	Questions  []TurnQuestion `yaml:"questions" json:"questions"`
}

// Question is a single elicitation question with a concealed correct answer.
type Question struct {
	ID            string            `yaml:"id" json:"questionId"`
	Type          string            `yaml:"type" json:"questionType"`
	Text          string            `yaml:"text" json:"questionText"`
	Options       map[string]string `yaml:"options" json:"options,omitempty"`
	CorrectAnswer string            `yaml:"correct_answer" json:"-"`
	Dataset       string            `yaml:"dataset" json:"dataset,omitempty"`
}

// QuestionTypeMultipleChoice marks questions with a fixed option set.
const QuestionTypeMultipleChoice = "multiple_choice"

// Source holds the loaded datasets.
type Source struct {
	turns     []Turn
	questions []Question
	byID      map[string]Question
}

// Load parses the embedded datasets.
func Load() (*Source, error) {
	var turnsFile struct {
		Turns []Turn `yaml:"turns"`
	}
	if err := unmarshalFile("data/detection_turns.yaml", &turnsFile); err != nil {
		return nil, err
	}

	var questionsFile struct {
		Questions []Question `yaml:"questions"`
	}
	if err := unmarshalFile("data/elicitation_questions.yaml", &questionsFile); err != nil {
		return nil, err
	}

	for i, turn := range turnsFile.Turns {
		if turn.ID == "" {
			return nil, fmt.Errorf("questions: detection turn %d has no id", i)
		}
		switch turn.ModelType {
		case ModelTypeNormal, ModelTypeSandbagging:
		default:
			return nil, fmt.Errorf("questions: turn %s has unknown model type %q", turn.ID, turn.ModelType)
		}
		if len(turn.Questions) == 0 {
			return nil, fmt.Errorf("questions: turn %s has no questions", turn.ID)
		}
	}

	byID := make(map[string]Question, len(questionsFile.Questions))
	for i, q := range questionsFile.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("questions: elicitation question %d has no id", i)
		}
		if q.CorrectAnswer == "" {
			return nil, fmt.Errorf("questions: question %s has no correct answer", q.ID)
		}
		byID[q.ID] = q
	}

	return &Source{
		turns:     turnsFile.Turns,
		questions: questionsFile.Questions,
		byID:      byID,
	}, nil
}

func unmarshalFile(name string, out any) error {
	data, err := dataFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("questions: read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("questions: parse %s: %w", name, err)
	}
	return nil
}

// DetectionTurns returns a copy of the detection turn collection.
func (s *Source) DetectionTurns() []Turn {
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// ElicitationQuestions returns a copy of the elicitation question collection.
func (s *Source) ElicitationQuestions() []Question {
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// ElicitationQuestion looks up a question by id.
func (s *Source) ElicitationQuestion(id string) (Question, bool) {
	q, ok := s.byID[id]
	return q, ok
}
